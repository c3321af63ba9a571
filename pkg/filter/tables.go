package filter

import "fmt"

// standardSizes are the structure sizes of the dyadic median transform
// sequence 2*2^j + 1.
var standardSizes = []int{3, 5, 9, 17, 33, 65, 129, 257}

// standardStructures is built once at package initialization and never
// modified afterwards. Lookups hand out clones.
var standardStructures = buildStandardStructures()

func buildStandardStructures() map[int]*Structure {
	table := make(map[int]*Structure, len(standardSizes))
	for _, size := range standardSizes {
		s, err := newStandardStructure(size)
		if err != nil {
			panic(err)
		}
		table[size] = s
	}
	return table
}

// newStandardStructure returns the two-way (disk + cross) structure used by
// the multiscale median transform. Size 3 uses a box for the first way.
func newStandardStructure(size int) (*Structure, error) {
	var disk *Structure
	var err error
	if size == 3 {
		disk, err = NewBoxStructure(size)
	} else {
		disk, err = NewCircularStructure(size)
	}
	if err != nil {
		return nil, err
	}
	cross, err := NewCrossStructure(size)
	if err != nil {
		return nil, err
	}
	return NewMultiWayStructure(fmt.Sprintf("Standard (%d)", size), disk, cross)
}

// StandardStructure returns a private copy of the standard median structure
// of the given size. Sizes outside the prebuilt table are built on demand.
func StandardStructure(size int) (*Structure, error) {
	if s, ok := standardStructures[size]; ok {
		return s.Clone(), nil
	}
	return newStandardStructure(size)
}

// StandardStructureSizes returns the sizes held by the prebuilt table.
func StandardStructureSizes() []int {
	return append([]int(nil), standardSizes...)
}
