// Simulates many time clocks pushing ATTLOG chunks at the bridge's push port.
package main

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const ack = "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nConnection: close\r\n\r\nOK\r\n"

func main() {
	// Configuration
	addr := "localhost:4370"
	numDevices := 200
	pushesPerDevice := 5
	linesPerPush := 10
	concurrency := 50

	totalPushes := numDevices * pushesPerDevice
	fmt.Printf("Starting push load test: %d devices x %d pushes (%d lines each) to %s with concurrency %d\n",
		numDevices, pushesPerDevice, linesPerPush, addr, concurrency)

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	var successCount int64
	var failCount int64

	startTime := time.Now()
	base := time.Date(2024, 1, 15, 8, 0, 0, 0, time.Local)

	for d := 0; d < numDevices; d++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(device int) {
			defer wg.Done()
			defer func() { <-sem }()

			conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
			if err != nil {
				atomic.AddInt64(&failCount, int64(pushesPerDevice))
				return
			}
			defer conn.Close()

			serial := fmt.Sprintf("LOAD%06d", device)
			buf := make([]byte, len(ack))
			for p := 0; p < pushesPerDevice; p++ {
				var body strings.Builder
				for l := 0; l < linesPerPush; l++ {
					at := base.Add(time.Duration(device*pushesPerDevice*linesPerPush+p*linesPerPush+l) * time.Second)
					fmt.Fprintf(&body, "%d\t%s\t0\t1\r\n", 1000+l, at.Format("2006-01-02 15:04:05"))
				}
				chunk := fmt.Sprintf("POST /iclock/cdata?SN=%s&table=ATTLOG HTTP/1.1\r\nHost: %s\r\n\r\n%s", serial, addr, body.String())

				_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
				if _, err := io.WriteString(conn, chunk); err != nil {
					atomic.AddInt64(&failCount, 1)
					return
				}
				if _, err := io.ReadFull(conn, buf); err != nil || string(buf) != ack {
					atomic.AddInt64(&failCount, 1)
					return
				}
				atomic.AddInt64(&successCount, 1)
			}
		}(d)
	}

	wg.Wait()
	duration := time.Since(startTime)

	fmt.Println("\n--- Push Load Test Results ---")
	fmt.Printf("Total Duration: %v\n", duration)
	fmt.Printf("Total Pushes:   %d\n", totalPushes)
	fmt.Printf("Acknowledged:   %d\n", successCount)
	fmt.Printf("Failed:         %d\n", failCount)
	fmt.Printf("Pushes/Sec:     %.2f\n", float64(totalPushes)/duration.Seconds())
}
