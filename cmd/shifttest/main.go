// Command shifttest measures the sub-pixel translation between two image
// files using the phase-correlation estimator and prints the result.
package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"probe-station/internal/stage"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

func main() {
	before := flag.String("a", "", "Path to the reference image")
	after := flag.String("b", "", "Path to the shifted image")
	flag.Parse()

	if *before == "" || *after == "" {
		fmt.Println("Usage: shifttest -a <reference> -b <shifted>")
		os.Exit(1)
	}

	imgA, err := loadGray(*before)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *before, err)
		os.Exit(1)
	}
	imgB, err := loadGray(*after)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *after, err)
		os.Exit(1)
	}

	dx, dy, err := stage.PhaseCorrelator{}.EstimateShift(imgA, imgB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Shift estimation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("shift: dx=%.3f px dy=%.3f px (positive dy = content moved up)\n", dx, dy)
}

func loadGray(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Copy(gray, image.Point{}, img, b, xdraw.Src, nil)
	return gray, nil
}
