package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bigbag/slipdump/internal/capture"
	"github.com/bigbag/slipdump/internal/decode"
	"github.com/bigbag/slipdump/internal/pcap"
	"github.com/bigbag/slipdump/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag     string
	baudFlag     int
	formatFlag   string
	pcapFlag     string
	checksumFlag bool
	verboseFlag  bool
)

var log = logrus.New()

func main() {
	rootCmd := &cobra.Command{
		Use:   "slipdump",
		Short: "Decode SLIP-framed serial traffic into per-packet records",
		Long: `Slipdump decodes a SLIP-framed byte stream into discrete frames and,
for frames carrying IPv4 datagrams, extracts the header fields and
TCP/UDP ports. Every frame produces exactly one output row, including
malformed ones, so the output is a 1:1 audit trail of the input.

Input can be a raw capture file, a Saleae Logic CSV export, or a live
serial port.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetOutput(os.Stderr)
			if verboseFlag {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	// Decode command
	decodeCmd := &cobra.Command{
		Use:   "decode <capture>",
		Short: "Decode a capture file",
		Long: `Decode a capture file containing a SLIP byte stream.

With --format raw (the default) the file is treated as the raw bytes as
they appeared on the line; timestamps are synthesized from byte position.
With --format csv the file is a Saleae Logic export of an Async Serial
analyzer and the recorded timestamps are used.`,
		Args: cobra.ExactArgs(1),
		RunE: runDecode,
	}
	decodeCmd.Flags().StringVarP(&formatFlag, "format", "f", "raw", "Input format: raw or csv")
	decodeCmd.Flags().StringVar(&pcapFlag, "pcap", "", "Write decoded IPv4 frames to a pcap file")
	decodeCmd.Flags().BoolVar(&checksumFlag, "verify-checksum", false, "Verify IPv4 header checksums (reported as warnings)")

	// Watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Live-decode from a serial port",
		Long: `Listen passively on a serial port and decode SLIP frames as they
arrive. Stop with Ctrl-C; a partially received frame is flushed as
truncated on exit.`,
		RunE: runWatch,
	}
	watchCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Serial port (required)")
	watchCmd.Flags().IntVarP(&baudFlag, "baud", "b", 115200, "Baud rate")
	watchCmd.Flags().StringVar(&pcapFlag, "pcap", "", "Write decoded IPv4 frames to a pcap file")
	watchCmd.Flags().BoolVar(&checksumFlag, "verify-checksum", false, "Verify IPv4 header checksums (reported as warnings)")
	watchCmd.MarkFlagRequired("port")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("slipdump %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	rootCmd.AddCommand(decodeCmd, watchCmd, versionCmd, listCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// emitter prints summary rows and forwards frames to the optional pcap
// writer, keeping per-kind counts for the closing stats line.
type emitter struct {
	pcap    *pcap.Writer
	printTS func(t time.Time) string

	total     int
	ipv4      int
	nonIPv4   int
	slipError int
}

func (e *emitter) emit(f *decode.DecodedFrame) error {
	e.total++
	switch f.Kind {
	case decode.KindIPv4:
		e.ipv4++
	case decode.KindNonIPv4:
		e.nonIPv4++
	case decode.KindSlipError:
		e.slipError++
	}

	fmt.Printf("%s  %s\n", e.printTS(f.Raw.StartTime), f.Summary())

	if e.pcap != nil {
		if err := e.pcap.WriteFrame(f); err != nil {
			return err
		}
	}
	return nil
}

func (e *emitter) printStats() {
	fmt.Printf("\n%d frames: %d IPv4, %d non-IPv4, %d SLIP errors\n",
		e.total, e.ipv4, e.nonIPv4, e.slipError)
	if e.pcap != nil {
		log.Debugf("pcap: %d packets written, %d frames skipped",
			e.pcap.Written(), e.pcap.Skipped())
	}
}

func runDecode(cmd *cobra.Command, args []string) error {
	capturePath := args[0]

	file, err := os.Open(capturePath)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat capture file: %w", err)
	}
	log.Debugf("decoding %s (%d bytes, format=%s)", capturePath, info.Size(), formatFlag)

	base := time.Unix(0, 0)
	var src capture.Source
	switch formatFlag {
	case "raw":
		var r io.Reader = file
		if info.Size() > 1<<20 {
			bar := progressbar.DefaultBytes(info.Size(), "Decoding")
			defer bar.Finish()
			r = io.TeeReader(file, bar)
		}
		src = capture.NewRawSource(r, base)
	case "csv":
		src, err = capture.NewSaleaeCSVSource(file, base)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q (want raw or csv)", formatFlag)
	}

	em := &emitter{
		// Capture-relative offset since both file sources anchor at base
		printTS: func(t time.Time) string {
			return fmt.Sprintf("%12s", t.Sub(base))
		},
	}
	if pcapFlag != "" {
		out, err := os.Create(pcapFlag)
		if err != nil {
			return fmt.Errorf("failed to create pcap file: %w", err)
		}
		defer out.Close()
		em.pcap, err = pcap.NewWriter(out)
		if err != nil {
			return err
		}
	}

	dec := decode.NewDecoder(decode.Options{VerifyChecksum: checksumFlag})
	last := base
	for {
		b, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		last = b.Time
		if f := dec.Feed(b.Value, b.Time); f != nil {
			if err := em.emit(f); err != nil {
				return err
			}
		}
	}
	if f := dec.Flush(last); f != nil {
		if err := em.emit(f); err != nil {
			return err
		}
	}

	em.printStats()
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	port, err := serial.Open(portFlag, baudFlag)
	if err != nil {
		return err
	}
	defer port.Close()

	log.Debugf("listening on %s @ %d baud", port.PortName(), port.BaudRate())
	fmt.Printf("Listening on %s @ %d baud (Ctrl-C to stop)\n", port.PortName(), baudFlag)

	em := &emitter{
		printTS: func(t time.Time) string {
			return t.Format("15:04:05.000000")
		},
	}
	if pcapFlag != "" {
		out, err := os.Create(pcapFlag)
		if err != nil {
			return fmt.Errorf("failed to create pcap file: %w", err)
		}
		defer out.Close()
		em.pcap, err = pcap.NewWriter(out)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dec := decode.NewDecoder(decode.Options{VerifyChecksum: checksumFlag})
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		n, err := port.Read(buf)
		if err != nil {
			return fmt.Errorf("serial read failed: %w", err)
		}
		if n == 0 {
			// Read timeout, line idle
			continue
		}

		// Serial reads return chunks; every byte in the chunk gets the
		// same arrival time, matching the capture granularity upstream.
		ts := time.Now()
		log.Debugf("read %d bytes", n)
		for _, f := range dec.FeedChunk(buf[:n], ts) {
			if err := em.emit(f); err != nil {
				return err
			}
		}
	}

	if f := dec.Flush(time.Now()); f != nil {
		if err := em.emit(f); err != nil {
			return err
		}
	}

	em.printStats()
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}

	return nil
}
