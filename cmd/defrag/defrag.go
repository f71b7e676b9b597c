package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/jakecoffman/ipfrag"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const snaplen = 262144

var (
	readFile   string
	writeFile  string
	timeout    time.Duration
	maxStreams int
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "defrag",
	Short:        "Reassemble fragmented IPv4 datagrams in a pcap file",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.LogLevel(logLevel)
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", logLevel)
		}
		logging.SetLevel(level, "ipfrag")
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&readFile, "read", "r", "", "pcap file to read")
	rootCmd.Flags().StringVarP(&writeFile, "write", "w", "", "pcap file to write reassembled packets to")
	rootCmd.Flags().DurationVar(&timeout, "timeout", ipfrag.DefaultTimeout, "discard partial datagrams idle this long")
	rootCmd.Flags().IntVar(&maxStreams, "max-streams", ipfrag.DefaultMaxStreams, "sweep stale datagrams when more than this many are open")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "WARNING", "log level (CRITICAL, ERROR, WARNING, NOTICE, INFO, DEBUG)")
	_ = rootCmd.MarkFlagRequired("read")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	in, err := os.Open(readFile)
	if err != nil {
		return errors.Wrap(err, "opening input")
	}
	defer in.Close()

	reader, err := pcapgo.NewReader(in)
	if err != nil {
		return errors.Wrapf(err, "reading pcap header of %s", readFile)
	}

	var writer *pcapgo.Writer
	if writeFile != "" {
		out, err := os.Create(writeFile)
		if err != nil {
			return errors.Wrap(err, "creating output")
		}
		defer out.Close()
		writer = pcapgo.NewWriter(out)
		if err := writer.WriteFileHeader(snaplen, reader.LinkType()); err != nil {
			return errors.Wrap(err, "writing pcap header")
		}
	}

	config := ipfrag.NewDefaultConfig()
	config.Name = readFile
	config.Timeout = timeout
	config.MaxStreams = maxStreams
	reassembler := ipfrag.NewReassembler(config)

	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "reading packet")
		}

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		packet.Metadata().CaptureInfo = ci

		status, datagram := reassembler.ProcessPacket(packet)
		if writer == nil {
			continue
		}
		switch status {
		case ipfrag.NotFragmented:
			err = writer.WritePacket(ci, data)
		case ipfrag.Reassembled:
			err = writeReassembled(writer, ci, packet, datagram)
		}
		if err != nil {
			return errors.Wrap(err, "writing packet")
		}
	}

	for i, name := range ipfrag.CounterNames {
		fmt.Printf("%-24s %d\n", name, reassembler.Counters[i])
	}
	fmt.Printf("%-24s %d\n", "streams open", reassembler.Len())
	return nil
}

// writeReassembled serializes the layers up to and including the rewritten
// IPv4 layer followed by the stitched payload.
func writeReassembled(writer *pcapgo.Writer, ci gopacket.CaptureInfo, packet gopacket.Packet, datagram *ipfrag.Datagram) error {
	var ls []gopacket.SerializableLayer
	for _, layer := range packet.Layers() {
		if ip, ok := layer.(*layers.IPv4); ok {
			ls = append(ls, ip)
			break
		}
		if s, ok := layer.(gopacket.SerializableLayer); ok {
			ls = append(ls, s)
		} else {
			ls = append(ls, gopacket.Payload(layer.LayerContents()))
		}
	}
	ls = append(ls, gopacket.Payload(datagram.Data))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return errors.Wrap(err, "serializing reassembled packet")
	}
	ci.CaptureLength = len(buf.Bytes())
	ci.Length = ci.CaptureLength
	return writer.WritePacket(ci, buf.Bytes())
}
