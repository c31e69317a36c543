package mllp

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medgate/medgate/internal/platform/hl7v2"
)

var testADT = "MSH|^~\\&|SendApp|SendFac|RecvApp|RecvFac|20240115120000||ADT^A01|MSG001|P|2.5.1\rPID|||12345||Smith^John||19800101|M"

type sessionRecord struct {
	clientID uuid.UUID
	result   Result
}

func startTestServer(t *testing.T, cfg Config) (*Server, chan sessionRecord) {
	t.Helper()

	sessions := make(chan sessionRecord, 8)
	onDisconnect := func(clientID uuid.UUID, remoteAddr string, result Result) {
		sessions <- sessionRecord{clientID: clientID, result: result}
	}

	cfg.Addr = "127.0.0.1:0"
	s := NewServer(cfg, zerolog.Nop(), onDisconnect)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, sessions
}

func dialTest(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return conn
}

// readAck reads one MLLP-framed acknowledgment from the connection.
func readAck(t *testing.T, conn net.Conn) *hl7v2.Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)

	for {
		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
		}

		raw, _, found := hl7v2.UnframeMessage(buf)
		if found {
			ack, perr := hl7v2.Parse(raw)
			if perr != nil {
				t.Fatalf("failed to parse acknowledgment: %v", perr)
			}
			return ack
		}

		if err != nil {
			t.Fatalf("error reading acknowledgment: %v", err)
		}
	}
}

func waitSession(t *testing.T, sessions chan sessionRecord) sessionRecord {
	t.Helper()
	select {
	case rec := <-sessions:
		return rec
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session result")
		return sessionRecord{}
	}
}

func TestServer_StartStop(t *testing.T) {
	s, _ := startTestServer(t, Config{})
	if s.Addr() == "" {
		t.Fatal("Addr() returned empty string")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestServer_SessionDeliversMessagesInOrder(t *testing.T) {
	s, sessions := startTestServer(t, Config{})

	conn := dialTest(t, s.Addr())

	msg1 := "MSH|^~\\&|A|B|C|D|20240115120000||ADT^A01|CTRL1|P|2.5.1\rPID|||111||One^First||19900101|M"
	msg2 := "MSH|^~\\&|A|B|C|D|20240115120001||ADT^A01|CTRL2|P|2.5.1\rPID|||222||Two^Second||19910202|F"

	for _, m := range []string{msg1, msg2} {
		if _, err := conn.Write(hl7v2.FrameMessage([]byte(m))); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		ack := readAck(t, conn)
		if got := ack.GetSegment("MSA").GetField(1); got != "AA" {
			t.Errorf("expected MSA-1 'AA', got %q", got)
		}
	}
	conn.Close()

	rec := waitSession(t, sessions)
	if len(rec.result.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(rec.result.Messages))
	}
	if rec.result.Messages[0].ControlID != "CTRL1" {
		t.Errorf("expected first control ID 'CTRL1', got %q", rec.result.Messages[0].ControlID)
	}
	if rec.result.Messages[1].ControlID != "CTRL2" {
		t.Errorf("expected second control ID 'CTRL2', got %q", rec.result.Messages[1].ControlID)
	}
	if !rec.result.Clean {
		t.Error("expected clean session")
	}
}

func TestServer_AckCarriesOriginalControlID(t *testing.T) {
	s, _ := startTestServer(t, Config{})

	conn := dialTest(t, s.Addr())
	defer conn.Close()

	if _, err := conn.Write(hl7v2.FrameMessage([]byte(testADT))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ack := readAck(t, conn)
	msa := ack.GetSegment("MSA")
	if msa == nil {
		t.Fatal("acknowledgment missing MSA segment")
	}
	if msa.GetField(2) != "MSG001" {
		t.Errorf("expected MSA-2 'MSG001', got %q", msa.GetField(2))
	}
}

func TestServer_NAKForGarbageThenRecovers(t *testing.T) {
	s, sessions := startTestServer(t, Config{})

	conn := dialTest(t, s.Addr())

	// Garbage first: expect a NAK, session must stay open.
	if _, err := conn.Write(hl7v2.FrameMessage([]byte("THIS IS NOT HL7"))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	nak := readAck(t, conn)
	if got := nak.GetSegment("MSA").GetField(1); got != "AE" {
		t.Errorf("expected MSA-1 'AE' for garbage, got %q", got)
	}

	// A valid message must still be accepted afterwards.
	if _, err := conn.Write(hl7v2.FrameMessage([]byte(testADT))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	ack := readAck(t, conn)
	if got := ack.GetSegment("MSA").GetField(1); got != "AA" {
		t.Errorf("expected MSA-1 'AA' after recovery, got %q", got)
	}
	conn.Close()

	rec := waitSession(t, sessions)
	if len(rec.result.Messages) != 1 {
		t.Errorf("expected 1 accepted message, got %d", len(rec.result.Messages))
	}
	if len(rec.result.Errors) == 0 {
		t.Error("expected the protocol error to be recorded")
	}
	if rec.result.Clean {
		t.Error("expected session marked not clean")
	}
}

func TestServer_ClosesAfterTooManyProtocolErrors(t *testing.T) {
	s, sessions := startTestServer(t, Config{MaxProtocolErrors: 2})

	conn := dialTest(t, s.Addr())
	defer conn.Close()

	for i := 0; i < 2; i++ {
		if _, err := conn.Write(hl7v2.FrameMessage([]byte("garbage"))); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		readAck(t, conn)
	}

	rec := waitSession(t, sessions)
	if len(rec.result.Messages) != 0 {
		t.Errorf("expected 0 messages, got %d", len(rec.result.Messages))
	}
	if len(rec.result.Errors) != 2 {
		t.Errorf("expected 2 errors, got %d", len(rec.result.Errors))
	}
}

func TestServer_PartialFrameAtDisconnectIsDropped(t *testing.T) {
	s, sessions := startTestServer(t, Config{})

	conn := dialTest(t, s.Addr())

	partial := []byte{hl7v2.MLLPStartBlock}
	partial = append(partial, []byte("MSH|^~\\&|trunc")...)
	if _, err := conn.Write(partial); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	conn.Close()

	rec := waitSession(t, sessions)
	if len(rec.result.Messages) != 0 {
		t.Errorf("expected 0 messages for partial frame, got %d", len(rec.result.Messages))
	}
	if rec.result.Clean {
		t.Error("expected session marked not clean")
	}
}

func TestServer_ZeroMessageSession(t *testing.T) {
	s, sessions := startTestServer(t, Config{})

	conn := dialTest(t, s.Addr())
	conn.Close()

	rec := waitSession(t, sessions)
	if len(rec.result.Messages) != 0 {
		t.Errorf("expected 0 messages, got %d", len(rec.result.Messages))
	}
	if !rec.result.Clean {
		t.Error("expected clean empty session")
	}
}

func TestServer_ConcurrentSessionsStayIndependent(t *testing.T) {
	s, sessions := startTestServer(t, Config{})

	var wg sync.WaitGroup
	for _, ctrlID := range []string{"CONN1", "CONN2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			conn := dialTest(t, s.Addr())
			defer conn.Close()

			msg := "MSH|^~\\&|A|B|C|D|20240115120000||ADT^A01|" + id + "|P|2.5.1\rPID|||999||Test^User||19850101|M"
			if _, err := conn.Write(hl7v2.FrameMessage([]byte(msg))); err != nil {
				t.Errorf("Write failed for %s: %v", id, err)
				return
			}
			readAck(t, conn)
		}(ctrlID)
	}
	wg.Wait()

	seen := make(map[string]uuid.UUID)
	for i := 0; i < 2; i++ {
		rec := waitSession(t, sessions)
		if len(rec.result.Messages) != 1 {
			t.Fatalf("expected 1 message per session, got %d", len(rec.result.Messages))
		}
		seen[rec.result.Messages[0].ControlID] = rec.clientID
	}

	if len(seen) != 2 {
		t.Fatalf("expected 2 distinct sessions, got %d", len(seen))
	}
	if seen["CONN1"] == seen["CONN2"] {
		t.Error("expected distinct client IDs per connection")
	}
}

func TestServer_StopEndsActiveSessions(t *testing.T) {
	s, sessions := startTestServer(t, Config{})

	conn := dialTest(t, s.Addr())
	defer conn.Close()

	if _, err := conn.Write(hl7v2.FrameMessage([]byte(testADT))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	readAck(t, conn)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	rec := waitSession(t, sessions)
	if len(rec.result.Messages) != 1 {
		t.Errorf("expected the message to be delivered on shutdown, got %d", len(rec.result.Messages))
	}
}
