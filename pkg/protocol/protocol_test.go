package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/vango-dev/treesync/pkg/markup"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to StatusType
		want     bool
	}{
		{StatusIdle, StatusLoading, true},
		{StatusIdle, StatusCompleted, false},
		{StatusIdle, StatusError, false},
		{StatusLoading, StatusCompleted, true},
		{StatusLoading, StatusError, true},
		{StatusLoading, StatusIdle, false},
		{StatusCompleted, StatusLoading, true},
		{StatusCompleted, StatusError, true},
		{StatusCompleted, StatusIdle, false},
		{StatusError, StatusLoading, true},
		{StatusError, StatusCompleted, false},
		{StatusCompleted, StatusCompleted, true},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestOpenOptionsKey(t *testing.T) {
	a := OpenOptions{URL: "FILE://Host/a/./b/../c.html?y=2&x=1", Params: map[string]string{"b": "2", "a": "1"}}
	b := OpenOptions{URL: "file://host/a/c.html?x=1&y=2", Params: map[string]string{"a": "1", "b": "2"}}
	if a.Key() != b.Key() {
		t.Errorf("Expected equal keys:\n%s\n%s", a.Key(), b.Key())
	}
	c := OpenOptions{URL: "file://host/a/c.html?x=1&y=2"}
	if a.Key() == c.Key() {
		t.Error("Expected params to be part of the key")
	}
}

func TestOpenOptionsQuery(t *testing.T) {
	o := OpenOptions{URL: "file:///index.html", Params: map[string]string{"theme": "dark"}}
	got := OptionsFromQuery(o.Query())
	if got.Key() != o.Key() {
		t.Errorf("OptionsFromQuery = %+v", got)
	}
}

func TestMessageJSONShape(t *testing.T) {
	data, err := JSON.Marshal(StatusChangeMessage(Failed(errors.New("boom"))))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := `{"type":"statusChange","data":{"type":"error","data":"boom"}}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	data, err = JSON.Marshal(DocumentDiffMessage(nil))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(data) != `{"type":"documentDiff","data":[]}` {
		t.Errorf("got %s", data)
	}
}

// TestCodecsCarryDiffs checks that a replica converges when the snapshot
// and script travel through each codec.
func TestCodecsCarryDiffs(t *testing.T) {
	old := markup.MustParse(`<ul class="a"><li>1</li><li>2</li><!--c--><input disabled></ul>`)
	next := markup.MustParse(`<ul><li>2</li><li id="x">1</li>t<input value=""></ul>`)
	script := markup.Diff(old, next)

	for _, codec := range []Codec{JSON, Binary} {
		t.Run(codec.Name(), func(t *testing.T) {
			snap := roundTrip(t, codec, NewDocumentMessage(old))
			replica, err := markup.Deserialize(snap.Document)
			if err != nil {
				t.Fatalf("Deserialize error: %v", err)
			}
			if replica.ID() != old.ID() {
				t.Error("Expected identifiers to survive")
			}

			diff := roundTrip(t, codec, DocumentDiffMessage(script))
			got, err := markup.Apply(replica, diff.Script)
			if err != nil {
				t.Fatalf("Apply error: %v", err)
			}
			if !markup.Equivalent(got, next) {
				t.Errorf("replica %s, want %s", markup.OuterHTML(got), markup.OuterHTML(next))
			}
		})
	}
}

func TestCodecsCarryDoctype(t *testing.T) {
	old := markup.MustParse(`<!DOCTYPE html><script>a < b</script>`)
	next := markup.MustParse(`<!DOCTYPE svg><script>a < b</script>`)
	script := markup.Diff(old, next)

	for _, codec := range []Codec{JSON, Binary} {
		t.Run(codec.Name(), func(t *testing.T) {
			snap := roundTrip(t, codec, NewDocumentMessage(old))
			replica, err := markup.Deserialize(snap.Document)
			if err != nil {
				t.Fatalf("Deserialize error: %v", err)
			}
			if replica.Doctype() != "html" {
				t.Errorf("Doctype = %q, want html", replica.Doctype())
			}
			diff := roundTrip(t, codec, DocumentDiffMessage(script))
			got, err := markup.Apply(replica, diff.Script)
			if err != nil {
				t.Fatalf("Apply error: %v", err)
			}
			if want := `<!DOCTYPE svg><script>a < b</script>`; markup.InnerHTML(got) != want {
				t.Errorf("replica %q, want %q", markup.InnerHTML(got), want)
			}
		})
	}
}

func TestBinaryPreservesBooleanAndPosition(t *testing.T) {
	root := markup.MustParse(`<input checked value="">`)
	m := roundTrip(t, Binary, NewDocumentMessage(root))
	input := m.Document.ChildNodes[0]
	if input.Position == nil || input.Position.Start != 0 {
		t.Errorf("position = %+v", input.Position)
	}
	if input.Attributes[0].Value != nil {
		t.Error("Expected boolean attribute to have no value")
	}
	if input.Attributes[1].Value == nil || *input.Attributes[1].Value != "" {
		t.Error("Expected empty value to be kept")
	}
}

func TestBinaryOpenAndStatus(t *testing.T) {
	o := OpenOptions{URL: "file:///a.html", Params: map[string]string{"k": "v"}}
	if got := roundTrip(t, Binary, OpenMessage(o)); got.Open.Key() != o.Key() {
		t.Errorf("open = %+v", got.Open)
	}
	if got := roundTrip(t, Binary, StatusChangeMessage(Loading())); got.Status != Loading() {
		t.Errorf("status = %v", got.Status)
	}
}

func TestMalformedPayloadsAreDecodeErrors(t *testing.T) {
	valid, err := Binary.Marshal(StatusChangeMessage(Completed()))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	tests := []struct {
		name  string
		codec Codec
		data  []byte
	}{
		{"json syntax", JSON, []byte(`{"type":`)},
		{"json unknown type", JSON, []byte(`{"type":"bogus","data":{}}`)},
		{"json missing data", JSON, []byte(`{"type":"newDocument"}`)},
		{"json unknown op", JSON, []byte(`{"type":"documentDiff","data":[{"op":"explode","target":"x"}]}`)},
		{"json bad status", JSON, []byte(`{"type":"statusChange","data":{"type":"sleeping"}}`)},
		{"binary short header", Binary, []byte{0x03, 0x00}},
		{"binary truncated", Binary, valid[:len(valid)-1]},
		{"binary trailing", Binary, append(append([]byte{}, valid...), 0x00)},
		{"binary unknown frame", Binary, NewFrame(0x7f, nil).Encode()},
		{"binary bad status", Binary, NewFrame(FrameStatusChange, []byte{0x09, 0x00}).Encode()},
		{"binary bad op", Binary, NewFrame(FrameDocumentDiff, []byte{0x01, 0x7f}).Encode()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.codec.Unmarshal(tt.data)
			var derr *DecodeError
			if !errors.As(err, &derr) {
				t.Fatalf("Expected *DecodeError, got %v", err)
			}
			if derr.Codec != tt.codec.Name() {
				t.Errorf("Codec = %q", derr.Codec)
			}
		})
	}
}

func TestBinaryDepthLimit(t *testing.T) {
	src := strings.Repeat("<b>", MaxRecordDepth+1)
	root, err := markup.Parse(src)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	data, err := Binary.Marshal(NewDocumentMessage(root))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	_, err = Binary.Unmarshal(data)
	if !errors.Is(err, ErrMaxDepthExceeded) {
		t.Errorf("Expected ErrMaxDepthExceeded, got %v", err)
	}
}

func TestBinaryAllocationLimit(t *testing.T) {
	e := NewEncoder()
	e.WriteByte(byte(StatusError))
	e.WriteUvarint(DefaultMaxAllocation + 1)
	_, err := Binary.Unmarshal(NewFrame(FrameStatusChange, e.Bytes()).Encode())
	if !errors.Is(err, ErrAllocationTooLarge) {
		t.Errorf("Expected ErrAllocationTooLarge, got %v", err)
	}
}

func TestFrameStream(t *testing.T) {
	var buf bytes.Buffer
	frames := []*Frame{
		NewFrame(FrameStatusChange, []byte{0x01, 0x00}),
		NewFrame(FrameDocumentDiff, bytes.Repeat([]byte{0xaa}, 70000)),
	}
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame error: %v", err)
		}
	}
	for i, want := range frames {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame %d error: %v", i, err)
		}
		if got.Type != want.Type || !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("frame %d mismatch", i)
		}
	}
	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Errorf("Expected io.EOF at end of stream, got %v", err)
	}
}

func TestReadFrameRejectsHugeLength(t *testing.T) {
	header := []byte{byte(FrameDocumentDiff), 0, 0xff, 0xff, 0xff, 0xff}
	if _, err := ReadFrame(bytes.NewReader(header)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}
}

func TestVarintRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 63, -64, 1 << 20, -(1 << 40)}
	e := NewEncoder()
	for _, v := range values {
		e.WriteSvarint(v)
	}
	d := NewDecoder(e.Bytes())
	for _, want := range values {
		got, err := d.ReadSvarint()
		if err != nil || got != want {
			t.Errorf("ReadSvarint = %d, %v; want %d", got, err, want)
		}
	}
	overflow := NewDecoder(bytes.Repeat([]byte{0xff}, 11))
	if _, err := overflow.ReadUvarint(); !errors.Is(err, ErrVarintOverflow) {
		t.Errorf("Expected ErrVarintOverflow, got %v", err)
	}
}

func TestStatusJSON(t *testing.T) {
	var s Status
	if err := json.Unmarshal([]byte(`{"type":"completed"}`), &s); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if s != Completed() {
		t.Errorf("got %v", s)
	}
}

func roundTrip(t *testing.T, codec Codec, m *Message) *Message {
	t.Helper()
	data, err := codec.Marshal(m)
	if err != nil {
		t.Fatalf("%s Marshal error: %v", codec.Name(), err)
	}
	got, err := codec.Unmarshal(data)
	if err != nil {
		t.Fatalf("%s Unmarshal error: %v", codec.Name(), err)
	}
	if got.Type != m.Type {
		t.Fatalf("Type = %s, want %s", got.Type, m.Type)
	}
	return got
}
