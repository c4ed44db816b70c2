package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/asticode/go-astikit"
	"github.com/pkg/profile"

	"github.com/cibo-tsar/tsar"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Index a TS-family file into per-PID .paf files\n")
		fmt.Fprintf(flag.CommandLine.Output(), "%s INPUT_FILE [FLAGS]:\n", os.Args[0])
		flag.PrintDefaults()
	}

	cpuProfiling := flag.Bool("cp", false, "if yes, cpu profiling is enabled")
	memoryProfiling := flag.Bool("mp", false, "if yes, memory profiling is enabled")
	outDir := flag.String("o", "out", "output directory for .paf files, must already exist")
	maxPIDBuffer := flag.Int("max-pid-buffer", tsar.DefaultMaxPIDBufferSize, "per-PID reassembly buffer bound, in bytes")
	exclude := flag.String("exclude", "", "comma-separated extra PIDs to skip, e.g. 0x1011,257")
	inputFile := astikit.FlagCmd()
	flag.Parse()

	if *cpuProfiling {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	} else if *memoryProfiling {
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	}

	if inputFile == "" {
		log.Fatal("tsar-index: an INPUT_FILE is required")
	}

	if info, err := os.Stat(*outDir); err != nil || !info.IsDir() {
		log.Fatalf("tsar-index: output dir %s must already exist: %v", *outDir, err)
	}

	tsar.SetLogger(log.Default())

	shape, err := tsar.IdentifyPacketShapeFile(inputFile)
	if err != nil {
		log.Fatalf("tsar-index: identifying %s failed: %v", inputFile, err)
	}
	log.Printf("tsar-index: detected shape header=%d trailer=%d first_packet_offset=%d",
		shape.HeaderLen, shape.TrailerLen, shape.FirstPacketOffset)

	f, err := os.Open(inputFile)
	if err != nil {
		log.Fatalf("tsar-index: opening %s failed: %v", inputFile, err)
	}
	defer f.Close()

	stream, err := tsar.NewPacketStream(f, shape)
	if err != nil {
		log.Fatalf("tsar-index: building packet stream failed: %v", err)
	}

	var extraPIDs []uint16
	if *exclude != "" {
		for _, s := range strings.Split(*exclude, ",") {
			pid, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
			if err != nil || pid > 0x1FFF {
				log.Fatalf("tsar-index: invalid PID %q in -exclude", s)
			}
			extraPIDs = append(extraPIDs, uint16(pid))
		}
	}

	dmx := tsar.NewDemux(stream, *outDir,
		tsar.WithMaxPIDBufferSize(*maxPIDBuffer),
		tsar.WithExcludedPIDs(extraPIDs...))
	if err := dmx.Run(); err != nil {
		if errors.Is(err, tsar.ErrTruncatedStream) {
			log.Fatalf("tsar-index: %s ended mid-packet: %v", inputFile, err)
		}
		log.Fatalf("tsar-index: indexing %s failed: %v", inputFile, err)
	}

	log.Println("tsar-index: done")
}
