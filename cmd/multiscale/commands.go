package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"multiscale/pkg/config"
	"multiscale/pkg/convolution"
	"multiscale/pkg/fftconv"
	"multiscale/pkg/filter"
	"multiscale/pkg/metrics"
	"multiscale/pkg/morphology"
	"multiscale/pkg/multiscale"
	"multiscale/pkg/noise"
	"multiscale/pkg/raster"
	"multiscale/pkg/visualization"
)

// kernelFlags registers the kernel selection flags shared by the convolution
// commands. Unset flags keep the configuration values.
func kernelFlags(cmd *cobra.Command) {
	cmd.Flags().String("kernel", "", "Kernel: b3, linear or gaussian")
	cmd.Flags().Float64("sigma", 0, "Standard deviation of the Gaussian kernel")
	cmd.Flags().Int("size", 0, "Kernel size (odd, 0 selects it from sigma)")
}

func (a *app) kernel(cmd *cobra.Command) (*filter.Kernel, error) {
	c := &a.cfg.Convolution
	if cmd.Flags().Changed("kernel") {
		c.Kernel, _ = cmd.Flags().GetString("kernel")
	}
	if cmd.Flags().Changed("sigma") {
		c.Sigma, _ = cmd.Flags().GetFloat64("sigma")
	}
	if cmd.Flags().Changed("size") {
		c.Size, _ = cmd.Flags().GetInt("size")
	}
	switch c.Kernel {
	case "b3":
		return filter.NewB3SplineKernel(), nil
	case "linear":
		return filter.NewLinearKernel(), nil
	case "gaussian":
		return filter.NewGaussianKernel(c.Sigma, c.Size)
	}
	return nil, fmt.Errorf("unknown kernel %q", c.Kernel)
}

func (a *app) structure(name string, size int) (*filter.Structure, error) {
	switch name {
	case "box":
		return filter.NewBoxStructure(size)
	case "circular":
		return filter.NewCircularStructure(size)
	case "cross":
		return filter.NewCrossStructure(size)
	case "standard":
		return filter.StandardStructure(size)
	}
	return nil, fmt.Errorf("unknown structure %q", name)
}

func (a *app) convolveCommand() *cobra.Command {
	var interlacing int
	var rawHighPass bool
	cmd := &cobra.Command{
		Use:   "convolve INPUT OUTPUT",
		Short: "Convolve an image with a kernel in the spatial domain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := a.kernel(cmd)
			if err != nil {
				return err
			}
			c := &a.cfg.Convolution
			if cmd.Flags().Changed("low") {
				c.LowThreshold, _ = cmd.Flags().GetFloat64("low")
			}
			if cmd.Flags().Changed("high") {
				c.HighThreshold, _ = cmd.Flags().GetFloat64("high")
			}
			if cmd.Flags().Changed("rescale") {
				c.RescaleHighPass, _ = cmd.Flags().GetBool("rescale")
			}

			conv, err := convolution.New(k,
				convolution.WithThresholds(c.LowThreshold, c.HighThreshold),
				convolution.WithInterlacing(interlacing),
				convolution.WithRawHighPass(rawHighPass),
				convolution.WithRescaleHighPass(c.RescaleHighPass),
				convolution.WithParallel(a.cfg.Parallel),
				convolution.WithLogger(logrus.NewEntry(a.logger)),
			)
			if err != nil {
				return err
			}

			img, err := a.load(args[0])
			if err != nil {
				return err
			}
			start := time.Now()
			if err := conv.Apply(cmd.Context(), img); err != nil {
				return err
			}
			a.logger.WithFields(logrus.Fields{
				"kernel":  k.Name(),
				"elapsed": time.Since(start).Round(time.Millisecond).String(),
			}).Info("Convolution completed")
			return a.save(img, args[1])
		},
	}
	kernelFlags(cmd)
	cmd.Flags().Float64("low", 0, "Low threshold for ringing suppression")
	cmd.Flags().Float64("high", 0, "High threshold for ringing suppression")
	cmd.Flags().Bool("rescale", false, "Rescale high-pass results instead of truncating them")
	cmd.Flags().IntVar(&interlacing, "interlacing", 1, "Distance between kernel taps")
	cmd.Flags().BoolVar(&rawHighPass, "raw-high-pass", false, "Keep high-pass results unbounded")
	return cmd
}

func (a *app) fftConvolveCommand() *cobra.Command {
	var responsePath string
	var compare bool
	cmd := &cobra.Command{
		Use:   "fftconvolve INPUT OUTPUT",
		Short: "Convolve an image with a kernel or response image in the frequency domain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := logrus.NewEntry(a.logger)
			var (
				f   *fftconv.FFTConvolution
				k   *filter.Kernel
				err error
			)
			if responsePath != "" {
				response, err := raster.Load(responsePath)
				if err != nil {
					return err
				}
				f, err = fftconv.NewWithResponse(response, 0, fftconv.WithParallel(a.cfg.Parallel), fftconv.WithLogger(entry))
				if err != nil {
					return err
				}
			} else {
				if k, err = a.kernel(cmd); err != nil {
					return err
				}
				if f, err = fftconv.New(k, fftconv.WithParallel(a.cfg.Parallel), fftconv.WithLogger(entry)); err != nil {
					return err
				}
			}

			img, err := a.load(args[0])
			if err != nil {
				return err
			}
			var original *raster.Image
			if compare {
				original = img.Clone()
			}
			start := time.Now()
			if err := f.Apply(cmd.Context(), img); err != nil {
				return err
			}
			a.logger.WithField("elapsed", time.Since(start).Round(time.Millisecond).String()).Info("FFT convolution completed")

			if original != nil {
				original.SetStatus(nil)
				if err := convolution.Convolve(cmd.Context(), original, k, 0, 0, a.cfg.Parallel); err != nil {
					return err
				}
				if err := a.report("Spatial and FFT convolution comparison", original, img); err != nil {
					return err
				}
			}
			return a.save(img, args[1])
		},
	}
	kernelFlags(cmd)
	cmd.Flags().StringVar(&responsePath, "response", "", "Use the first channel of this image as the response function")
	cmd.Flags().BoolVar(&compare, "compare", false, "Compare with spatial convolution by the same kernel")
	// A response image has no spatial kernel to compare against.
	cmd.MarkFlagsMutuallyExclusive("compare", "response")
	return cmd
}

func (a *app) morphCommand() *cobra.Command {
	var operation string
	cmd := &cobra.Command{
		Use:   "morph INPUT OUTPUT",
		Short: "Apply a morphological or rank-order filter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := &a.cfg.Morphology
			if cmd.Flags().Changed("operator") {
				m.Operator, _ = cmd.Flags().GetString("operator")
			}
			if cmd.Flags().Changed("param") {
				m.Parameter, _ = cmd.Flags().GetFloat64("param")
			}
			if cmd.Flags().Changed("structure") {
				m.Structure, _ = cmd.Flags().GetString("structure")
			}
			if cmd.Flags().Changed("size") {
				m.Size, _ = cmd.Flags().GetInt("size")
			}
			low, _ := cmd.Flags().GetFloat64("low")
			high, _ := cmd.Flags().GetFloat64("high")

			s, err := a.structure(m.Structure, m.Size)
			if err != nil {
				return err
			}
			img, err := a.load(args[0])
			if err != nil {
				return err
			}

			start := time.Now()
			switch operation {
			case "filter":
				op, err := morphology.ParseOperator(m.Operator, m.Parameter)
				if err != nil {
					return err
				}
				f, err := morphology.New(op, s,
					morphology.WithThresholds(low, high),
					morphology.WithParallel(a.cfg.Parallel),
					morphology.WithLogger(logrus.NewEntry(a.logger)),
				)
				if err != nil {
					return err
				}
				err = f.Apply(cmd.Context(), img)
				if err != nil {
					return err
				}
			case "opening":
				if err := morphology.Opening(cmd.Context(), img, s, a.cfg.Parallel); err != nil {
					return err
				}
			case "closing":
				if err := morphology.Closing(cmd.Context(), img, s, a.cfg.Parallel); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown operation %q", operation)
			}
			a.logger.WithFields(logrus.Fields{
				"operation": operation,
				"structure": s.Name(),
				"elapsed":   time.Since(start).Round(time.Millisecond).String(),
			}).Info("Morphological filtering completed")
			return a.save(img, args[1])
		},
	}
	cmd.Flags().StringVar(&operation, "operation", "filter", "filter, opening or closing")
	cmd.Flags().String("operator", "", "erosion, dilation, median, midpoint, selection or alpha-trimmed-mean")
	cmd.Flags().Float64("param", 0.5, "Selection point or trimming factor")
	cmd.Flags().String("structure", "", "box, circular, cross or standard")
	cmd.Flags().Int("size", 0, "Structure size (odd)")
	cmd.Flags().Float64("low", 0, "Low threshold")
	cmd.Flags().Float64("high", 0, "High threshold")
	return cmd
}

func (a *app) decomposeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompose INPUT",
		Short: "Decompose an image into multiscale layers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ms := &a.cfg.Multiscale
			flags := cmd.Flags()
			if flags.Changed("mode") {
				ms.Mode, _ = flags.GetString("mode")
			}
			if flags.Changed("layers") {
				ms.Layers, _ = flags.GetInt("layers")
			}
			if flags.Changed("linear") {
				ms.Linear, _ = flags.GetBool("linear")
			}
			if flags.Changed("delta") {
				ms.Delta, _ = flags.GetInt("delta")
			}
			if flags.Changed("median-wavelet") {
				ms.MedianWavelet, _ = flags.GetBool("median-wavelet")
			}
			if flags.Changed("output") {
				a.cfg.Output.Directory, _ = flags.GetString("output")
				a.cfg.Output.SaveLayers = true
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			t, err := a.transform()
			if err != nil {
				return err
			}
			img, err := a.load(args[0])
			if err != nil {
				return err
			}

			start := time.Now()
			layers, err := t.Transform(cmd.Context(), img)
			if err != nil {
				return err
			}
			defer layers.Destroy()
			a.logger.WithFields(logrus.Fields{
				"mode":    ms.Mode,
				"layers":  layers.NumberOfLayers(),
				"elapsed": time.Since(start).Round(time.Millisecond).String(),
			}).Info("Decomposition completed")

			if layers.IsComplete() {
				rec, err := layers.Reconstruct()
				if err != nil {
					return err
				}
				if err := a.report("Reconstruction", img, rec); err != nil {
					return err
				}
			}

			if a.cfg.Output.SaveLayers {
				for c := 0; c < img.NumberOfChannels(); c++ {
					dir := a.cfg.Output.Directory
					if img.NumberOfChannels() > 1 {
						dir = filepath.Join(dir, fmt.Sprintf("channel_%d", c))
					}
					written, err := visualization.NewViewer(layers, c).SaveLayerSequence(dir)
					if err != nil {
						return err
					}
					a.logger.WithFields(logrus.Fields{"directory": dir, "files": len(written)}).Info("Layers saved")
				}
			}
			return nil
		},
	}
	cmd.Flags().String("mode", "", "atrous or median")
	cmd.Flags().Int("layers", 0, "Number of detail layers")
	cmd.Flags().Bool("linear", false, "Use the linear scaling sequence")
	cmd.Flags().Int("delta", 1, "Increment of the linear scaling sequence")
	cmd.Flags().Bool("median-wavelet", false, "Use the median-wavelet transform")
	cmd.Flags().StringP("output", "o", "", "Write the layers as PNG files to this directory")
	return cmd
}

// transform builds the decomposition configured in the multiscale section.
func (a *app) transform() (multiscale.Transform, error) {
	ms := a.cfg.Multiscale
	mode, err := multiscale.ParseMode(ms.Mode)
	if err != nil {
		return nil, err
	}
	scaling := filter.NewB3SplineKernel()
	if ms.ScalingFunction == "linear" {
		scaling = filter.NewLinearKernel()
	}
	entry := logrus.NewEntry(a.logger)
	if mode == multiscale.Median {
		return &multiscale.MedianTransform{
			NumberOfLayers:         ms.Layers,
			MedianWavelet:          ms.MedianWavelet,
			MedianWaveletThreshold: ms.MedianWaveletThreshold,
			ScalingFunction:        scaling,
			LayerEnabled:           a.cfg.LayerMask(),
			Parallel:               a.cfg.Parallel,
			Logger:                 entry,
		}, nil
	}
	t := &multiscale.ATrousWaveletTransform{
		ScalingFunction: scaling,
		NumberOfLayers:  ms.Layers,
		Delta:           ms.Delta,
		LayerEnabled:    a.cfg.LayerMask(),
		Parallel:        a.cfg.Parallel,
		Logger:          entry,
	}
	if ms.Linear {
		t.Sequence = multiscale.Linear
	}
	return t, nil
}

func (a *app) noiseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "noise INPUT",
		Short: "Estimate the standard deviation of Gaussian noise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.load(args[0])
			if err != nil {
				return err
			}
			img.SetStatus(nil)

			fmt.Printf("%-8s %-8s %-14s %-10s %s\n", "Channel", "Method", "Sigma", "Pixels", "Fraction")
			for c := 0; c < img.NumberOfChannels(); c++ {
				est, err := noise.EstimateImageNoise(cmd.Context(), img, c, a.cfg.Parallel, logrus.NewEntry(a.logger))
				if err != nil {
					return err
				}
				fmt.Printf("%-8d %-8s %-14.6e %-10d %.3f\n", c, est.Method, est.Sigma, est.Count, est.Fraction)
			}
			return nil
		},
	}
	return cmd
}

func (a *app) initConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [PATH]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			a.logger.WithField("file", path).Info("Default configuration written")
			return nil
		},
	}
}

// report logs the comparison of two images, channel by channel.
func (a *app) report(title string, reference, test *raster.Image) error {
	m, err := metrics.Compare(reference, test)
	if err != nil {
		return err
	}
	for c, cm := range m {
		a.logger.WithFields(logrus.Fields{
			"channel":    c,
			"rmse":       cm.RMSE,
			"maxAbsDiff": cm.MaxAbsDiff,
			"ssim":       cm.SSIM,
		}).Info(title)
	}
	return nil
}
