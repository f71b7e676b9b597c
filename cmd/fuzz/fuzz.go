package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/jakecoffman/ipfrag"
	"github.com/op/go-logging"
)

var globalTime = time.Unix(100, 0)

var reassembler *ipfrag.Reassembler

func main() {
	logging.SetLevel(logging.CRITICAL, "ipfrag")

	numIterations := -1

	if len(os.Args) > 1 {
		var err error
		numIterations, err = strconv.Atoi(os.Args[1])
		if err != nil {
			log.Fatalf("argument 1 must be an integer, got %q", os.Args[1])
		}
	}

	reassembler = ipfrag.NewReassembler(nil)

	quit := make(chan struct{})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT)

	go func() {
		<-signals
		close(quit)
	}()

	deltaTime := 10 * time.Millisecond

	for i := 0; running(quit) && (numIterations < 0 || i < numIterations); i++ {
		iteration(globalTime)
		globalTime = globalTime.Add(deltaTime)
	}
}

func iteration(now time.Time) {
	fmt.Print(".")

	packetData := make([]byte, testMaxPacketBytes)
	packetBytes := rand.Intn(testMaxPacketBytes-1) + 1
	for i := 0; i < packetBytes; i++ {
		packetData[i] = byte(rand.Int() % 256)
	}
	// keep enough of the header sane that most packets decode as fragments
	if packetBytes >= 20 {
		packetData[0] = 0x45
		packetData[2] = byte(packetBytes >> 8)
		packetData[3] = byte(packetBytes)
		packetData[4] = 0
		packetData[5] = byte(rand.Intn(4))
		packetData[6] &= 0x3f
		packetData[12], packetData[16] = 10, 10
	}

	packet := gopacket.NewPacket(packetData[:packetBytes], layers.LayerTypeIPv4, gopacket.Default)
	packet.Metadata().Timestamp = now
	reassembler.ProcessPacket(packet)
}

const testMaxPacketBytes = 2 * 1024

func running(quit <-chan struct{}) bool {
	select {
	case <-quit:
		return false
	default:
		return true
	}
}
