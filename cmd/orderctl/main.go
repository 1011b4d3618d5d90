// Command orderctl is a one-shot CLI client for sending New Order and
// Cancel Order frames to a running ordersrv and printing execution
// reports received over multicast. Grounded on the teacher's
// cmd/client/client.go (flag parsing shape, one-shot command plus a
// background report-reader goroutine), re-coded against this design's
// little-endian fixed-size wire protocol (§6) instead of the teacher's
// big-endian variable-length one. As a one-shot human-facing tool rather
// than a long-running service, it keeps the teacher's own log.Printf /
// fmt.Printf console style instead of structured zerolog output.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"fenrir/internal/domain"
	"fenrir/internal/protocol"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the order gateway")
	multicastAddr := flag.String("multicast", "239.0.0.1:9002", "multicast group to listen for execution reports on")
	action := flag.String("action", "place", "action to perform: 'place' or 'cancel'")

	id := flag.Uint64("id", 0, "order id (compulsory)")
	trader := flag.Uint64("trader", 0, "trader id (compulsory for 'place')")
	sideStr := flag.String("side", "bid", "order side: 'bid' or 'ask'")
	price := flag.Int64("price", 0, "limit price, in ticks")
	qtyStr := flag.String("qty", "10", "quantity, or comma-separated list (e.g. 10,20,50)")

	flag.Parse()

	if *id == 0 {
		fmt.Println("Error: -id is compulsory.")
		flag.Usage()
		os.Exit(1)
	}
	if strings.ToLower(*action) == "place" && *trader == 0 {
		fmt.Println("Error: -trader is compulsory for 'place'.")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s\n", *serverAddr)

	go listenForReports(*multicastAddr)

	switch strings.ToLower(*action) {
	case "place":
		side, err := parseSide(*sideStr)
		if err != nil {
			log.Fatal(err)
		}
		for _, qty := range parseQuantities(*qtyStr) {
			if err := sendNewOrder(conn, *id, *trader, side, *price, qty); err != nil {
				log.Printf("failed to place order (qty %d): %v", qty, err)
				continue
			}
			fmt.Printf("-> Sent New Order: id=%d side=%s price=%d qty=%d\n", *id, side, *price, qty)
			time.Sleep(5 * time.Millisecond)
		}

	case "cancel":
		if err := sendCancelOrder(conn, *id); err != nil {
			log.Fatalf("failed to send cancel: %v", err)
		}
		fmt.Printf("-> Sent Cancel Order: id=%d\n", *id)

	default:
		log.Fatalf("unknown action: %s", *action)
	}

	fmt.Println("\nListening for execution reports... (Ctrl+C to exit)")
	select {}
}

func parseSide(s string) (domain.Side, error) {
	switch strings.ToLower(s) {
	case "bid", "buy":
		return domain.Bid, nil
	case "ask", "sell":
		return domain.Ask, nil
	default:
		return 0, fmt.Errorf("unknown side %q, expected 'bid' or 'ask'", s)
	}
}

func parseQuantities(input string) []uint64 {
	parts := strings.Split(input, ",")
	result := make([]uint64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		val, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			log.Printf("warning: invalid quantity %q, skipping", p)
			continue
		}
		result = append(result, val)
	}
	return result
}

func sendNewOrder(conn net.Conn, id, trader uint64, side domain.Side, price int64, qty uint64) error {
	order, err := domain.NewOrder(id, trader, side, price, qty, 0)
	if err != nil {
		return err
	}
	var buf [protocol.NewOrderSize]byte
	if err := protocol.EncodeNewOrder(buf[:], order); err != nil {
		return err
	}
	_, err = conn.Write(buf[:])
	return err
}

func sendCancelOrder(conn net.Conn, id uint64) error {
	var buf [protocol.CancelOrderSize]byte
	if err := protocol.EncodeCancelOrder(buf[:], id); err != nil {
		return err
	}
	_, err := conn.Write(buf[:])
	return err
}

// listenForReports joins the multicast group execution reports are
// published to and prints every decoded report to stdout.
func listenForReports(multicastAddr string) {
	addr, err := net.ResolveUDPAddr("udp", multicastAddr)
	if err != nil {
		log.Printf("failed to resolve multicast addr %s: %v", multicastAddr, err)
		return
	}
	conn, err := net.ListenMulticastUDP("udp", nil, addr)
	if err != nil {
		log.Printf("failed to join multicast group %s: %v", multicastAddr, err)
		return
	}
	defer conn.Close()

	buf := make([]byte, protocol.ExecutionReportSize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			log.Printf("multicast read error: %v", err)
			return
		}
		report, err := protocol.DecodeExecutionReport(buf[:n])
		if err != nil {
			log.Printf("failed to decode execution report: %v", err)
			continue
		}
		fmt.Printf(
			"\n[EXECUTION] taker=%d maker=%d price=%d qty=%d seq=%d ts=%d\n",
			report.TakerOrderID, report.MakerOrderID, report.Price, report.Quantity, report.SeqNum, report.Timestamp,
		)
	}
}
