package main

import (
	"bytes"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/jakecoffman/ipfrag"
	"github.com/op/go-logging"
	flag "github.com/spf13/pflag"
)

var globalTime = time.Unix(100, 0)

// to profile, run `./soak --cpuprofile=prof --iterations=8000`, then run `go tool pprof soak prof`
var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")
var iterations = flag.Int("iterations", -1, "number of iterations to run")
var loglevel = flag.Int("loglevel", int(logging.ERROR), "log level (5 for debug)")
var dropPercent = flag.Int("drop", 5, "percent of fragments to drop")
var duplicatePercent = flag.Int("duplicate", 5, "percent of fragments to send twice")

var reassembler *ipfrag.Reassembler
var expected = map[uint16][]byte{}
var id uint16

func main() {
	flag.Parse()

	logging.SetLevel(logging.Level(*loglevel), "ipfrag")

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	config := ipfrag.NewDefaultConfig()
	config.Name = "soak"
	config.Builder = ipfrag.RawBuilder{}
	reassembler = ipfrag.NewReassembler(config)

	quit := make(chan struct{})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT)

	go func() {
		<-signals
		close(quit)
	}()

	deltaTime := 100 * time.Millisecond

	for i := 0; running(quit) && (*iterations < 0 || i < *iterations); i++ {
		iteration(globalTime)
		globalTime = globalTime.Add(deltaTime)
	}

	for i, name := range ipfrag.CounterNames {
		fmt.Printf("%-24s %d\n", name, reassembler.Counters[i])
	}
}

const testMaxPacketBytes = 16 * 1024

func generatePacketData(sequence uint16) []byte {
	packetBytes := ((int(sequence) * 1023) % (testMaxPacketBytes - 2)) + 2
	packetData := make([]byte, packetBytes)
	packetData[0] = byte(sequence & 0xFF)
	packetData[1] = byte((sequence >> 8) & 0xFF)
	for i := 2; i < packetBytes; i++ {
		packetData[i] = byte((i + int(sequence)) % 256)
	}
	return packetData
}

func iteration(now time.Time) {
	id++
	payload := generatePacketData(id)
	header := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Id:       id,
		Protocol: layers.IPProtocol(253),
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	if rand.Intn(2) == 0 {
		header.SrcIP, header.DstIP = header.DstIP, header.SrcIP
	}
	fragments, err := ipfrag.FragmentDatagram(header, payload, 8*(1+rand.Intn(185)))
	if err != nil {
		log.Fatal(err)
	}
	expected[id] = payload
	// datagrams that lost a fragment never complete
	delete(expected, id-1000)

	var wire [][]byte
	for _, f := range fragments {
		if rand.Intn(100) < *dropPercent {
			continue
		}
		wire = append(wire, f)
		if rand.Intn(100) < *duplicatePercent {
			wire = append(wire, f)
		}
	}
	rand.Shuffle(len(wire), func(i, j int) { wire[i], wire[j] = wire[j], wire[i] })

	for _, data := range wire {
		packet := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.Default)
		packet.Metadata().Timestamp = now
		status, datagram := reassembler.ProcessPacket(packet)
		switch status {
		case ipfrag.Reassembled:
			want, ok := expected[datagram.Header.Id]
			if !ok {
				log.Fatal("reassembled unknown datagram ", datagram.Header.Id)
			}
			if !bytes.Equal(want, datagram.Data) {
				log.Fatal("wrong data for datagram ", datagram.Header.Id)
			}
			delete(expected, datagram.Header.Id)
		case ipfrag.Failed:
			log.Fatal("reassembly failed for datagram ", header.Id)
		case ipfrag.NotFragmented:
			if len(fragments) > 1 {
				log.Fatal("fragment of datagram ", header.Id, " passed through unfragmented")
			}
			delete(expected, header.Id)
		}
	}
	fmt.Print(".")
}

func running(quit <-chan struct{}) bool {
	select {
	case <-quit:
		return false
	default:
		return true
	}
}
