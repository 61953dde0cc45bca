package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const (
	decoderReadSize  = 4096
	loopDetectedName = "loop_detected"
)

// Decoder turns a server-sent event byte stream into fragments. Frames are
// "data:" lines terminated by a blank line; a frame may arrive split across
// any number of reads.
type Decoder struct {
	ctx  context.Context
	body io.ReadCloser
	log  zerolog.Logger

	carry   []byte   // partial trailing line kept between reads
	data    []string // data lines of the frame being assembled
	event   string   // "event:" field of the frame being assembled
	pending []Fragment
	usage   *Usage

	// thoughtSig is the signature of the latest thought part, attached to a
	// later function call that carries none of its own.
	thoughtSig []byte

	eof      bool
	finished bool

	closeOnce sync.Once
	closeErr  error
	stop      func() bool
}

// NewDecoder returns a decoder reading body. Cancelling ctx closes body and
// ends the sequence; nothing buffered is emitted afterwards.
func NewDecoder(ctx context.Context, body io.ReadCloser, log zerolog.Logger) *Decoder {
	d := &Decoder{
		ctx:  ctx,
		body: body,
		log:  log,
	}
	d.stop = context.AfterFunc(ctx, func() { d.Close() })
	return d
}

// Recv returns the next fragment, or io.EOF once the stream is exhausted.
func (d *Decoder) Recv() (Fragment, error) {
	for {
		if err := d.ctx.Err(); err != nil {
			d.Close()
			return Fragment{}, err
		}

		if len(d.pending) > 0 {
			frag := d.pending[0]
			d.pending = d.pending[1:]
			if frag.Type == FragmentError {
				// An error frame terminates the sequence early.
				d.pending = nil
				d.finished = true
				d.Close()
			}
			return frag, nil
		}

		if d.finished {
			return Fragment{}, io.EOF
		}

		if line, ok := d.nextLine(); ok {
			d.handleLine(line)
			continue
		}

		if d.eof {
			if len(d.carry) > 0 {
				line := string(d.carry)
				d.carry = nil
				d.handleLine(line)
			}
			d.dispatch()
			d.finished = true
			continue
		}

		if err := d.fill(); err != nil {
			if ctxErr := d.ctx.Err(); ctxErr != nil {
				return Fragment{}, ctxErr
			}
			return Fragment{}, err
		}
	}
}

// Close releases the underlying body. Safe to call more than once.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		if d.stop != nil {
			d.stop()
		}
		d.closeErr = d.body.Close()
	})
	return d.closeErr
}

func (d *Decoder) fill() error {
	buf := make([]byte, decoderReadSize)
	n, err := d.body.Read(buf)
	if n > 0 {
		d.carry = append(d.carry, buf[:n]...)
	}
	if errors.Is(err, io.EOF) {
		d.eof = true
		return nil
	}
	return err
}

func (d *Decoder) nextLine() (string, bool) {
	i := bytes.IndexByte(d.carry, '\n')
	if i < 0 {
		return "", false
	}
	line := string(d.carry[:i])
	d.carry = d.carry[i+1:]
	return strings.TrimSuffix(line, "\r"), true
}

func (d *Decoder) handleLine(line string) {
	switch {
	case line == "":
		d.dispatch()
	case strings.HasPrefix(line, ":"):
		// comment / keep-alive
	case strings.HasPrefix(line, "data:"):
		d.data = append(d.data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	case strings.HasPrefix(line, "event:"):
		d.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	}
}

// wireFrame accepts both the bare generateContent shape and the Code Assist
// envelope that nests it under "response".
type wireFrame struct {
	Response      *wireResponse                               `json:"response"`
	Candidates    []*genai.Candidate                          `json:"candidates"`
	UsageMetadata *genai.GenerateContentResponseUsageMetadata `json:"usageMetadata"`
	Error         *wireError                                  `json:"error"`
}

type wireResponse struct {
	Candidates    []*genai.Candidate                          `json:"candidates"`
	UsageMetadata *genai.GenerateContentResponseUsageMetadata `json:"usageMetadata"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (d *Decoder) dispatch() {
	event := d.event
	payload := strings.Join(d.data, "\n")
	d.event = ""
	d.data = d.data[:0]

	if event == loopDetectedName {
		d.pending = append(d.pending, Fragment{Type: FragmentLoopDetected})
		return
	}
	if event == "error" {
		d.pending = append(d.pending, Fragment{Type: FragmentError, Err: errorFrame(payload)})
		return
	}
	if payload == "" {
		return
	}
	if payload == "[DONE]" {
		d.pending = append(d.pending, Fragment{Type: FragmentFinished, Usage: d.usage})
		return
	}

	var frame wireFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		d.log.Warn().Err(err).Int("bytes", len(payload)).Msg("skipping malformed stream frame")
		return
	}
	if frame.Error != nil {
		d.pending = append(d.pending, Fragment{Type: FragmentError, Err: frame.Error.streamError()})
		return
	}

	candidates, usage := frame.Candidates, frame.UsageMetadata
	if frame.Response != nil {
		candidates, usage = frame.Response.Candidates, frame.Response.UsageMetadata
	}
	if usage != nil {
		d.usage = &Usage{
			InputTokens:  int(usage.PromptTokenCount),
			OutputTokens: int(usage.CandidatesTokenCount),
		}
		d.log.Debug().
			Int("input_tokens", d.usage.InputTokens).
			Int("output_tokens", d.usage.OutputTokens).
			Msg("usage")
	}
	if len(candidates) == 0 || candidates[0] == nil {
		return
	}

	candidate := candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if frag, ok := d.partFragment(part); ok {
				d.pending = append(d.pending, frag)
			}
		}
	}
	if candidate.FinishReason != "" {
		d.pending = append(d.pending, Fragment{
			Type:         FragmentFinished,
			FinishReason: string(candidate.FinishReason),
			Usage:        d.usage,
		})
	}
}

func (e *wireError) streamError() *StreamError {
	return &StreamError{Code: e.Code, Status: e.Status, Message: e.Message}
}

// errorFrame builds the error carried by an "event: error" frame. The payload
// may be a JSON error object, plain text, or nothing at all.
func errorFrame(payload string) *StreamError {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return &StreamError{Message: "unknown error"}
	}
	var frame wireFrame
	if err := json.Unmarshal([]byte(payload), &frame); err == nil && frame.Error != nil {
		return frame.Error.streamError()
	}
	return &StreamError{Message: payload}
}

func (d *Decoder) partFragment(part *genai.Part) (Fragment, bool) {
	if part == nil {
		return Fragment{}, false
	}
	if part.Thought && len(part.ThoughtSignature) > 0 {
		d.thoughtSig = part.ThoughtSignature
	}
	if fc := part.FunctionCall; fc != nil {
		args := fc.Args
		if args == nil {
			args = map[string]any{}
		}
		sig := part.ThoughtSignature
		if len(sig) == 0 {
			sig = d.thoughtSig
		}
		return Fragment{
			Type: FragmentToolCall,
			Call: &ToolCall{ID: fc.ID, Name: fc.Name, Arguments: args, ThoughtSig: sig},
		}, true
	}
	if part.Text == "" {
		return Fragment{}, false
	}
	if part.Thought {
		return Fragment{Type: FragmentThought, Text: part.Text}, true
	}
	return Fragment{Type: FragmentText, Text: part.Text}, true
}
