package hl7v2

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

const (
	// MLLPStartBlock is the MLLP start-of-message byte (VT / vertical tab).
	MLLPStartBlock = 0x0B

	// MLLPEndBlock is the MLLP end-of-message byte (FS / file separator).
	MLLPEndBlock = 0x1C

	// MLLPCarriageReturn is the trailing CR after the end block.
	MLLPCarriageReturn = 0x0D
)

// Acknowledgment codes for MSA-1.
const (
	AckCodeAccept = "AA"
	AckCodeError  = "AE"
	AckCodeReject = "AR"
)

// FrameMessage wraps raw HL7v2 bytes in MLLP framing:
//
//	<0x0B> + message + <0x1C><0x0D>
func FrameMessage(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, MLLPStartBlock)
	frame = append(frame, data...)
	frame = append(frame, MLLPEndBlock, MLLPCarriageReturn)
	return frame
}

// UnframeMessage extracts HL7v2 bytes from an MLLP frame. It looks for the
// first start block byte, then reads until end block + CR. It returns the
// extracted message, any remaining bytes after the frame, and whether a
// complete frame was found.
func UnframeMessage(data []byte) (message []byte, rest []byte, found bool) {
	// Find start block.
	startIdx := bytes.IndexByte(data, MLLPStartBlock)
	if startIdx == -1 {
		return nil, data, false
	}

	// Find end block sequence (0x1C 0x0D) after the start block.
	endSeq := []byte{MLLPEndBlock, MLLPCarriageReturn}
	endIdx := bytes.Index(data[startIdx+1:], endSeq)
	if endIdx == -1 {
		return nil, data, false
	}

	// Adjust endIdx to be relative to the full data slice.
	endIdx = startIdx + 1 + endIdx

	message = data[startIdx+1 : endIdx]
	rest = data[endIdx+2:]
	found = true
	return
}

// GenerateACK creates an HL7v2 ACK message for the given incoming message.
// ackCode should be AckCodeAccept, AckCodeError, or AckCodeReject.
//
// The ACK swaps the sending and receiving application/facility from the
// original message and references the original control ID in MSA-2.
func GenerateACK(incoming *Message, ackCode string) *Message {
	// Extract the trigger event from the incoming message type.
	// incoming.Type is something like "ADT^A01"; we want "A01".
	trigger := ""
	if parts := strings.SplitN(incoming.Type, "^", 2); len(parts) == 2 {
		trigger = parts[1]
	}

	now := time.Now().UTC()
	timestamp := now.Format("20060102150405")
	controlID := fmt.Sprintf("ACK%s", now.Format("20060102150405.000"))

	ack := &Message{
		Type:         "ACK^" + trigger,
		ControlID:    controlID,
		Version:      incoming.Version,
		Timestamp:    now,
		SendingApp:   incoming.ReceivingApp,
		SendingFac:   incoming.ReceivingFac,
		ReceivingApp: incoming.SendingApp,
		ReceivingFac: incoming.SendingFac,
	}

	// Build MSH segment.
	msh := Segment{
		Name: "MSH",
		Fields: []Field{
			{Value: "|", Components: []string{"|"}},                           // MSH-1
			{Value: "^~\\&", Components: []string{"^~\\&"}},                   // MSH-2
			{Value: ack.SendingApp, Components: []string{ack.SendingApp}},     // MSH-3
			{Value: ack.SendingFac, Components: []string{ack.SendingFac}},     // MSH-4
			{Value: ack.ReceivingApp, Components: []string{ack.ReceivingApp}}, // MSH-5
			{Value: ack.ReceivingFac, Components: []string{ack.ReceivingFac}}, // MSH-6
			{Value: timestamp, Components: []string{timestamp}},               // MSH-7
			{Value: "", Components: []string{""}},                             // MSH-8 (security)
			{Value: "ACK^" + trigger, Components: []string{"ACK", trigger}},   // MSH-9
			{Value: controlID, Components: []string{controlID}},               // MSH-10
			{Value: "P", Components: []string{"P"}},                           // MSH-11
			{Value: incoming.Version, Components: []string{incoming.Version}}, // MSH-12
		},
	}

	// Build MSA segment.
	msa := Segment{
		Name: "MSA",
		Fields: []Field{
			{Value: ackCode, Components: []string{ackCode}},                       // MSA-1
			{Value: incoming.ControlID, Components: []string{incoming.ControlID}}, // MSA-2
		},
	}

	ack.Segments = []Segment{msh, msa}

	return ack
}

// GenerateNAK creates a rejection ACK for raw bytes that could not be parsed
// as an HL7v2 message. With no MSH to mirror, the header fields are minimal
// and MSA-2 is left empty.
func GenerateNAK(ackCode string) *Message {
	return GenerateACK(&Message{Version: "2.5.1"}, ackCode)
}

// SerializeMessage converts a Message struct back into raw HL7v2 bytes
// with \r segment separators.
func SerializeMessage(msg *Message) []byte {
	var segments []string
	for _, seg := range msg.Segments {
		segments = append(segments, serializeSegment(seg))
	}
	return []byte(strings.Join(segments, "\r"))
}

// serializeSegment converts a Segment back into its HL7v2 string form.
func serializeSegment(seg Segment) string {
	if seg.Name == "MSH" {
		// MSH is special: Fields[0] is the field separator itself (|),
		// and Fields[1] is the encoding characters. We reconstruct as:
		// MSH|^~\&|field3|field4|...
		if len(seg.Fields) < 2 {
			return "MSH|"
		}
		parts := make([]string, 0, len(seg.Fields)-1)
		// Start from Fields[1] (MSH-2) onward.
		for i := 1; i < len(seg.Fields); i++ {
			parts = append(parts, seg.Fields[i].Value)
		}
		return "MSH|" + strings.Join(parts, "|")
	}

	parts := make([]string, len(seg.Fields))
	for i, f := range seg.Fields {
		parts[i] = f.Value
	}
	return seg.Name + "|" + strings.Join(parts, "|")
}
