// Command mcs-lb-stress is a small load-testing tool for exercising the
// load balancer's per-IP quota, supplementing the Go port with a tool
// the original implementation shipped alongside the load balancer.
package main

import (
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	lbAddr       = "127.0.0.1:64400"
	testDuration = 5 * time.Second
	mb           = 1024 * 1024
)

func main() {
	mode := "help"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	switch mode {
	case "conn":
		testConnectionLimit()
	case "bandwidth":
		testBandwidthLimit()
	default:
		fmt.Println("Usage: mcs-lb-stress [conn|bandwidth]")
		fmt.Println("  conn      : opens many connections to trigger connection-rate limiting.")
		fmt.Println("  bandwidth : opens one connection and blasts data to trigger throughput limiting.")
	}
}

func testConnectionLimit() {
	fmt.Println("--- Starting Connection Flood Test ---")
	fmt.Printf("Target: %s\n", lbAddr)

	var success, failures atomic.Uint64
	start := time.Now()
	deadline := start.Add(testDuration)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				conn, err := net.DialTimeout("tcp", lbAddr, time.Second)
				if err != nil {
					failures.Add(1)
					time.Sleep(10 * time.Millisecond)
					continue
				}

				buf := make([]byte, 1)
				conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
				// A read timeout means the LB kept the connection open; a
				// rejected connection is closed at once and reads EOF.
				_, err = conn.Read(buf)
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					success.Add(1)
				} else {
					failures.Add(1)
				}
				conn.Close()
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	s, f := success.Load(), failures.Load()
	elapsed := time.Since(start).Seconds()

	fmt.Println("Done.")
	fmt.Printf("Successful connections: %d\n", s)
	fmt.Printf("Blocked connections: %d\n", f)
	fmt.Printf("Rate: %.2f conn/sec\n", float64(s+f)/elapsed)

	if f > 0 {
		fmt.Println("PASS: some connections were rejected.")
	} else {
		fmt.Println("FAIL: no connections were rejected, limits might be too high.")
	}
}

// testBandwidthLimit requires disabling TLS termination on the load
// balancer (it writes a raw, unencrypted payload).
func testBandwidthLimit() {
	fmt.Println("--- Starting Bandwidth Test ---")

	const payloadSize = 2 * mb
	payload := make([]byte, payloadSize)

	conn, err := net.DialTimeout("tcp", lbAddr, 2*time.Second)
	if err != nil {
		fmt.Printf("failed to connect to test load balancer: %v\n", err)
		return
	}
	defer conn.Close()

	fmt.Printf("Connected. Attempting to send %d MB...\n", payloadSize/mb)

	start := time.Now()
	if _, err := conn.Write(payload); err != nil {
		fmt.Printf("Write failed: %v\n", err)
		fmt.Println("Disable TLS on the load balancer.")
		return
	}

	elapsed := time.Since(start).Seconds()
	fmt.Println("Transfer complete.")
	fmt.Printf("Time: %.2fs\n", elapsed)
	fmt.Printf("Speed: %.2f MB/s\n", float64(payloadSize/mb)/elapsed)
	fmt.Println("Compare transfer speed against the configured quota.")
}
