package dlframe

import (
	"bufio"
	"bytes"
	"testing"
)

func TestFrame_EncodeDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{name: "cmd start", frame: Frame{Type: TypeCmd, Payload: []byte{byte(CmdStart)}}},
		{name: "header", frame: Frame{Type: TypeHeader, Payload: EncodeHeaderPayload(5120, 0xDEADBEEF)}},
		{name: "empty data", frame: Frame{Type: TypeData, Payload: nil}},
		{name: "max payload", frame: Frame{Type: TypeData, Payload: bytes.Repeat([]byte{0x42}, MaxPayload)}},
		{name: "over max payload", frame: Frame{Type: TypeData, Payload: bytes.Repeat([]byte{0x42}, MaxPayload+1)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := tt.frame.Encode()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			got, err := ReadFrame(bufio.NewReader(bytes.NewReader(encoded)))
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}
			if got.Type != tt.frame.Type {
				t.Errorf("Type = %v, want %v", got.Type, tt.frame.Type)
			}
			if !bytes.Equal(got.Payload, tt.frame.Payload) {
				t.Errorf("Payload = %v, want %v", got.Payload, tt.frame.Payload)
			}
		})
	}
}

func TestReadFrame_BadSOF(t *testing.T) {
	buf := []byte{0x00, byte(TypeCmd), 1, 0, byte(CmdStart), 0, 0, 0, 0, EOF}
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(buf)))
	if err == nil {
		t.Fatal("expected error for bad SOF")
	}
}

func TestReadFrame_BadEOF(t *testing.T) {
	f := Frame{Type: TypeCmd, Payload: []byte{byte(CmdStart)}}
	encoded, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	encoded[len(encoded)-1] = 0x00

	_, err = ReadFrame(bufio.NewReader(bytes.NewReader(encoded)))
	if err == nil {
		t.Fatal("expected error for bad EOF")
	}
}

func TestReadFrame_LengthOverMax(t *testing.T) {
	buf := []byte{SOF, byte(TypeData), 0xFF, 0xFF}
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(buf)))
	if err == nil {
		t.Fatal("expected error for oversized length field")
	}
}

func TestResponse_EncodeDecode(t *testing.T) {
	for _, code := range []ResponseCode{ResponseACK, ResponseNACK} {
		r := Response{Code: code}
		got, err := ReadResponse(bufio.NewReader(bytes.NewReader(r.Encode())))
		if err != nil {
			t.Fatalf("ReadResponse: %v", err)
		}
		if got.Code != code {
			t.Errorf("Code = %v, want %v", got.Code, code)
		}
	}
}

func TestHeaderPayload_RoundTrip(t *testing.T) {
	size, crc, err := DecodeHeaderPayload(EncodeHeaderPayload(5120, 0xCAFEBABE))
	if err != nil {
		t.Fatalf("DecodeHeaderPayload: %v", err)
	}
	if size != 5120 || crc != 0xCAFEBABE {
		t.Errorf("got size=%d crc=0x%X, want size=5120 crc=0xCAFEBABE", size, crc)
	}
}
