// Command iioinfo lists the capture devices a chip selector resolves to and their capabilities.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gen2brain/iio"
)

func main() {
	var (
		chip string
		rate uint
		all  bool
	)

	flag.StringVar(&chip, "chip", "AD7476A", "card name, part of a card description, or hw:C,D list")
	flag.UintVar(&rate, "rate", 1000000, "sample rate in Hz used for the buffered duration")
	flag.BoolVar(&all, "all", false, "list every card with capture devices")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Displays the ALSA capture devices matching a chip selector.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	cards, err := iio.EnumerateCards()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error enumerating cards: %v\n", err)
		os.Exit(1)
	}

	if all {
		for _, card := range cards {
			if len(card.Devices) > 0 {
				fmt.Print(card)
			}
		}

		return
	}

	addrs, err := iio.FindCaptureDevices(chip, cards)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for _, addr := range addrs {
		fmt.Printf("%s:\n", addr)

		params, err := iio.PcmParamsGetRefined(addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  Error getting parameters: %v\n", err)

			continue
		}

		fmt.Print(params)

		if frames, err := params.RangeMax(iio.SNDRV_PCM_HW_PARAM_BUFFER_SIZE); err == nil && rate > 0 && frames != ^uint32(0) {
			d := time.Duration(float64(frames) / float64(rate) * float64(time.Second))
			fmt.Printf("%12s: %s at %d Hz\n", "Max buffer", d, rate)
		}

		fmt.Println()
	}
}
