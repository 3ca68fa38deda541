package protocol

import (
	"fmt"
	"sort"

	"github.com/vango-dev/treesync/pkg/markup"
)

// Record flags.
const (
	recordHasValue    = 0x01
	recordHasPosition = 0x02
)

// EncodeMessage encodes m into a binary frame.
func EncodeMessage(m *Message) (*Frame, error) {
	e := NewEncoder()
	var ft FrameType
	switch m.Type {
	case TypeOpen:
		ft = FrameOpen
		encodeOpen(e, m.Open)
	case TypeNewDocument:
		if m.Document == nil {
			return nil, fmt.Errorf("protocol: %s without document", m.Type)
		}
		ft = FrameNewDocument
		encodeRecord(e, m.Document)
	case TypeDocumentDiff:
		ft = FrameDocumentDiff
		if err := encodeScript(e, m.Script); err != nil {
			return nil, err
		}
	case TypeStatusChange:
		ft = FrameStatusChange
		e.WriteByte(byte(m.Status.Type))
		e.WriteString(m.Status.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, m.Type)
	}
	if e.Len() > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	return NewFrame(ft, e.Bytes()), nil
}

// DecodeMessage decodes the payload of f. Failures are *DecodeError.
func DecodeMessage(f *Frame) (*Message, error) {
	m, err := decodePayload(f)
	if err != nil {
		return nil, &DecodeError{Codec: Binary.Name(), Err: err}
	}
	return m, nil
}

func decodePayload(f *Frame) (*Message, error) {
	d := NewDecoder(f.Payload)
	m := new(Message)
	var err error
	switch f.Type {
	case FrameOpen:
		m.Type = TypeOpen
		m.Open, err = decodeOpen(d)
	case FrameNewDocument:
		m.Type = TypeNewDocument
		m.Document, err = decodeRecord(d, newDepthContext(MaxRecordDepth))
	case FrameDocumentDiff:
		m.Type = TypeDocumentDiff
		m.Script, err = decodeScript(d)
	case FrameStatusChange:
		m.Type = TypeStatusChange
		m.Status, err = decodeStatus(d)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidFrameType, f.Type)
	}
	if err != nil {
		return nil, err
	}
	if !d.EOF() {
		return nil, fmt.Errorf("%w: %d", ErrTrailingBytes, d.Remaining())
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeOpen(e *Encoder, o OpenOptions) {
	e.WriteString(o.URL)
	keys := make([]string, 0, len(o.Params))
	for k := range o.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.WriteUvarint(uint64(len(keys)))
	for _, k := range keys {
		e.WriteString(k)
		e.WriteString(o.Params[k])
	}
}

func decodeOpen(d *Decoder) (OpenOptions, error) {
	var o OpenOptions
	var err error
	if o.URL, err = d.ReadString(); err != nil {
		return o, err
	}
	count, err := d.ReadCollectionCount()
	if err != nil {
		return o, err
	}
	if count > 0 {
		o.Params = make(map[string]string, count)
	}
	for i := 0; i < count; i++ {
		k, err := d.ReadString()
		if err != nil {
			return o, err
		}
		v, err := d.ReadString()
		if err != nil {
			return o, err
		}
		o.Params[k] = v
	}
	return o, nil
}

func decodeStatus(d *Decoder) (Status, error) {
	b, err := d.ReadByte()
	if err != nil {
		return Status{}, err
	}
	s := Status{Type: StatusType(b)}
	if !s.Type.Valid() {
		return Status{}, fmt.Errorf("protocol: invalid status %d", b)
	}
	s.Data, err = d.ReadString()
	return s, err
}

// encodeRecord writes a node record.
//
//	kind(1) id name flags(1) [value] [start end] attrCount attrs... childCount children...
func encodeRecord(e *Encoder, r *markup.Record) {
	e.WriteByte(byte(r.Kind))
	e.WriteString(r.ID)
	e.WriteString(r.Name)
	var flags byte
	if r.Value != nil {
		flags |= recordHasValue
	}
	if r.Position != nil {
		flags |= recordHasPosition
	}
	e.WriteByte(flags)
	if r.Value != nil {
		e.WriteString(*r.Value)
	}
	if r.Position != nil {
		e.WriteSvarint(int64(r.Position.Start))
		e.WriteSvarint(int64(r.Position.End))
	}
	e.WriteUvarint(uint64(len(r.Attributes)))
	for _, a := range r.Attributes {
		encodeRecord(e, a)
	}
	e.WriteUvarint(uint64(len(r.ChildNodes)))
	for _, c := range r.ChildNodes {
		encodeRecord(e, c)
	}
}

func decodeRecord(d *Decoder, dc *depthContext) (*markup.Record, error) {
	if err := dc.enter(); err != nil {
		return nil, err
	}
	defer dc.leave()

	kind, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	r := &markup.Record{Kind: markup.Kind(kind)}
	if !r.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %d", markup.ErrInvalidRecord, kind)
	}
	if r.ID, err = d.ReadString(); err != nil {
		return nil, err
	}
	if r.Name, err = d.ReadString(); err != nil {
		return nil, err
	}
	flags, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	if flags&recordHasValue != 0 {
		v, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		r.Value = &v
	}
	if flags&recordHasPosition != 0 {
		start, err := d.ReadSvarint()
		if err != nil {
			return nil, err
		}
		end, err := d.ReadSvarint()
		if err != nil {
			return nil, err
		}
		r.Position = &markup.Position{Start: int(start), End: int(end)}
	}
	if r.Attributes, err = decodeRecords(d, dc); err != nil {
		return nil, err
	}
	if r.ChildNodes, err = decodeRecords(d, dc); err != nil {
		return nil, err
	}
	return r, nil
}

func decodeRecords(d *Decoder, dc *depthContext) ([]*markup.Record, error) {
	count, err := d.ReadCollectionCount()
	if err != nil || count == 0 {
		return nil, err
	}
	out := make([]*markup.Record, count)
	for i := range out {
		if out[i], err = decodeRecord(d, dc); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// encodeScript writes an action list.
//
//	count { op(1) target name value boolean child index(svarint) hasNode [record] }...
func encodeScript(e *Encoder, s markup.Script) error {
	e.WriteUvarint(uint64(len(s)))
	for i, a := range s {
		if !a.Op.Valid() {
			return fmt.Errorf("protocol: action %d: %w", i, markup.ErrUnknownOp)
		}
		e.WriteByte(byte(a.Op))
		e.WriteString(a.Target)
		e.WriteString(a.Name)
		e.WriteString(a.Value)
		e.WriteBool(a.Boolean)
		e.WriteString(a.Child)
		e.WriteSvarint(int64(a.Index))
		e.WriteBool(a.Node != nil)
		if a.Node != nil {
			encodeRecord(e, a.Node)
		}
	}
	return nil
}

func decodeScript(d *Decoder) (markup.Script, error) {
	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	s := make(markup.Script, count)
	for i := range s {
		if err := decodeAction(d, &s[i]); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
	}
	return s, nil
}

func decodeAction(d *Decoder, a *markup.Action) error {
	op, err := d.ReadByte()
	if err != nil {
		return err
	}
	a.Op = markup.ActionOp(op)
	if !a.Op.Valid() {
		return fmt.Errorf("%w: %d", markup.ErrUnknownOp, op)
	}
	if a.Target, err = d.ReadString(); err != nil {
		return err
	}
	if a.Name, err = d.ReadString(); err != nil {
		return err
	}
	if a.Value, err = d.ReadString(); err != nil {
		return err
	}
	if a.Boolean, err = d.ReadBool(); err != nil {
		return err
	}
	if a.Child, err = d.ReadString(); err != nil {
		return err
	}
	index, err := d.ReadSvarint()
	if err != nil {
		return err
	}
	a.Index = int(index)
	hasNode, err := d.ReadBool()
	if err != nil {
		return err
	}
	if hasNode {
		a.Node, err = decodeRecord(d, newDepthContext(MaxRecordDepth))
	}
	return err
}
