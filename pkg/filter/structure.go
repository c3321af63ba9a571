package filter

import (
	"fmt"
	"strings"
)

// StructureKind identifies the shape family of a structuring element.
type StructureKind int

const (
	BoxStructure StructureKind = iota
	CircularStructure
	CrossStructure
	BitmapStructure
	MultiWayStructure
)

func (k StructureKind) String() string {
	switch k {
	case BoxStructure:
		return "box"
	case CircularStructure:
		return "circular"
	case CrossStructure:
		return "cross"
	case BitmapStructure:
		return "bitmap"
	case MultiWayStructure:
		return "multiway"
	}
	return fmt.Sprintf("StructureKind(%d)", int(k))
}

// Structure is a morphological structuring element made of one or more ways.
// Each way is a size*size membership mask in row-major order. Rank-order
// filters compute their statistic over every way separately and then combine
// the per-way results with the same statistic.
type Structure struct {
	name      string
	kind      StructureKind
	size      int
	ways      [][]bool
	reflected bool
}

// NewBoxStructure returns a square structure with every element set.
func NewBoxStructure(size int) (*Structure, error) {
	return newShapedStructure(BoxStructure, size, func(i, j, h int) bool { return true })
}

// NewCircularStructure returns a disk inscribed in the size*size square.
func NewCircularStructure(size int) (*Structure, error) {
	return newShapedStructure(CircularStructure, size, func(i, j, h int) bool {
		di, dj := i-h, j-h
		return di*di+dj*dj <= h*h+h
	})
}

// NewCrossStructure returns the central row plus the central column.
func NewCrossStructure(size int) (*Structure, error) {
	return newShapedStructure(CrossStructure, size, func(i, j, h int) bool { return i == h || j == h })
}

// NewBitmapStructure builds a structure from one string per way. Each string
// holds size*size characters; 'x' or 'X' marks a member, anything else does not.
func NewBitmapStructure(name string, size int, ways ...string) (*Structure, error) {
	if err := checkStructureSize(size); err != nil {
		return nil, err
	}
	if len(ways) == 0 {
		return nil, ErrEmptyFilter
	}
	s := &Structure{name: name, kind: BitmapStructure, size: size, ways: make([][]bool, len(ways))}
	for w, bitmap := range ways {
		if len(bitmap) != size*size {
			return nil, fmt.Errorf("%w: way %d has %d elements, expected %d", ErrInvalidParameter, w, len(bitmap), size*size)
		}
		mask := make([]bool, size*size)
		for i, ch := range bitmap {
			mask[i] = ch == 'x' || ch == 'X'
		}
		s.ways[w] = mask
	}
	if err := s.checkNonEmptyWays(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMultiWayStructure joins the ways of several structures of equal size.
func NewMultiWayStructure(name string, parts ...*Structure) (*Structure, error) {
	if len(parts) == 0 {
		return nil, ErrEmptyFilter
	}
	size := parts[0].size
	s := &Structure{name: name, kind: MultiWayStructure, size: size}
	for _, p := range parts {
		if p.size != size {
			return nil, fmt.Errorf("%w: mixed structure sizes %d and %d", ErrInvalidParameter, size, p.size)
		}
		for _, w := range p.ways {
			s.ways = append(s.ways, append([]bool(nil), w...))
		}
	}
	return s, nil
}

func newShapedStructure(kind StructureKind, size int, member func(i, j, h int) bool) (*Structure, error) {
	if err := checkStructureSize(size); err != nil {
		return nil, err
	}
	h := size / 2
	mask := make([]bool, size*size)
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			mask[i*size+j] = member(i, j, h)
		}
	}
	return &Structure{
		name: fmt.Sprintf("%s (%d)", kind, size),
		kind: kind,
		size: size,
		ways: [][]bool{mask},
	}, nil
}

func checkStructureSize(size int) error {
	if size <= 0 {
		return ErrEmptyFilter
	}
	if size%2 == 0 {
		return fmt.Errorf("%w: %d", ErrEvenSize, size)
	}
	return nil
}

func (s *Structure) checkNonEmptyWays() error {
	for w := range s.ways {
		if s.NumberOfElements(w) == 0 {
			return fmt.Errorf("%w: way %d has no elements", ErrEmptyFilter, w)
		}
	}
	return nil
}

// Name returns the descriptive name of the structure.
func (s *Structure) Name() string { return s.name }

// Kind returns the shape family.
func (s *Structure) Kind() StructureKind { return s.kind }

// Size returns the side length of the structure.
func (s *Structure) Size() int { return s.size }

// IsEmpty reports whether the structure has no ways.
func (s *Structure) IsEmpty() bool { return s == nil || s.size == 0 || len(s.ways) == 0 }

// NumberOfWays returns the number of ways.
func (s *Structure) NumberOfWays() int { return len(s.ways) }

// Way returns the membership mask of way w in current orientation.
func (s *Structure) Way(w int) []bool { return s.ways[w] }

// IsMember reports whether element (i, j) belongs to way w.
func (s *Structure) IsMember(w, i, j int) bool { return s.ways[w][i*s.size+j] }

// NumberOfElements returns the number of members of way w.
func (s *Structure) NumberOfElements(w int) int {
	n := 0
	for _, m := range s.ways[w] {
		if m {
			n++
		}
	}
	return n
}

// MaxElements returns the largest member count over all ways.
func (s *Structure) MaxElements() int {
	n := 0
	for w := range s.ways {
		n = max(n, s.NumberOfElements(w))
	}
	return n
}

// OverlappingDistance returns the neighborhood width required around a pixel.
func (s *Structure) OverlappingDistance() int { return s.size }

// IsReflected reports whether the structure is currently point-reflected.
func (s *Structure) IsReflected() bool { return s.reflected }

// Reflect point-reflects every way in place. Reflect is an involution.
func (s *Structure) Reflect() {
	for _, w := range s.ways {
		for i, j := 0, len(w)-1; i < j; i, j = i+1, j-1 {
			w[i], w[j] = w[j], w[i]
		}
	}
	s.reflected = !s.reflected
}

// Orient forces the reflected state and returns a function restoring the
// previous one. Same usage rules as Kernel.Orient.
func (s *Structure) Orient(reflected bool) (restore func()) {
	if s.reflected == reflected {
		return func() {}
	}
	s.Reflect()
	return s.Reflect
}

// Clone returns an independent copy of the structure.
func (s *Structure) Clone() *Structure {
	out := *s
	out.ways = make([][]bool, len(s.ways))
	for w, mask := range s.ways {
		out.ways[w] = append([]bool(nil), mask...)
	}
	return &out
}

// String renders every way as rows of 'x' and '-'.
func (s *Structure) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, %d way(s)\n", s.name, len(s.ways))
	for w, mask := range s.ways {
		fmt.Fprintf(&b, "way %d:\n", w)
		for i := 0; i < s.size; i++ {
			for j := 0; j < s.size; j++ {
				if mask[i*s.size+j] {
					b.WriteByte('x')
				} else {
					b.WriteByte('-')
				}
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
