package message

import (
	"bytes"
	"testing"

	"sockopt/protocol"
)

func BenchmarkSendReceiveRequest(b *testing.B) {
	body := bytes.Repeat([]byte{1}, 256)
	hdr := protocol.NewRequestHeader(protocol.OpSet, 7, len(body))
	var buf bytes.Buffer

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		if err := SendMessage(&buf, hdr, body); err != nil {
			b.Fatal(err)
		}
		if _, err := ReceiveRequest(&buf, 0); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReceiveReply(b *testing.B) {
	body := bytes.Repeat([]byte{1}, 4096)
	frame := append((&protocol.ReplyHeader{Version: protocol.Version, BodyLen: uint64(len(body))}).Marshal(), body...)
	var d Decoder
	r := bytes.NewReader(frame)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Reset(frame)
		reply, err := d.ReceiveReply(r, true)
		if err != nil {
			b.Fatal(err)
		}
		reply.Body.Release()
	}
}
