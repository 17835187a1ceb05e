// Command handshake dials the responder through the kernel tcp stack and
// reports how the connection ends. The responder closes every connection
// right after the handshake, so a healthy run ends with EOF.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", "10.0.0.1:80", "Responder address")
	timeout := flag.Duration("timeout", 5*time.Second, "How long to wait for the connection to end")
	flag.Parse()

	start := time.Now()
	conn, err := net.DialTimeout("tcp4", *addr, *timeout)
	if err != nil {
		log.Fatalln("Dial error:", err)
	}
	defer conn.Close()
	log.Printf("Connected %s -> %s in %s\n", conn.LocalAddr(), conn.RemoteAddr(), time.Since(start))

	conn.SetReadDeadline(time.Now().Add(*timeout))
	n, err := conn.Read(make([]byte, 1))
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, io.EOF):
		fmt.Printf("closed by peer after %s\n", elapsed)
	case err == nil:
		fmt.Printf("unexpected %d byte payload after %s\n", n, elapsed)
		os.Exit(1)
	default:
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			fmt.Printf("no FIN within %s\n", *timeout)
		} else {
			fmt.Printf("connection failed after %s: %s\n", elapsed, err)
		}
		os.Exit(1)
	}
}
