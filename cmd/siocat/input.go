package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

var errEmptyLine = errors.New("empty line")

type lineKind int

const (
	lineMessage lineKind = iota
	lineJSON
	lineEvent
)

type command struct {
	kind lineKind
	name string
	data string
}

// parseLine turns one line of input into an outbound message
func parseLine(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmptyLine
	}

	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "json":
		if !json.Valid([]byte(rest)) {
			return command{}, fmt.Errorf("invalid json: %q", rest)
		}
		return command{kind: lineJSON, data: rest}, nil
	case "emit":
		name, args, _ := strings.Cut(rest, " ")
		if name == "" {
			return command{}, errors.New("emit needs an event name")
		}
		args = strings.TrimSpace(args)
		if args == "" {
			args = "[]"
		}
		return command{kind: lineEvent, name: name, data: args}, nil
	}

	return command{kind: lineMessage, data: line}, nil
}

type sender interface {
	Send(text string) error
	SendJSON(v interface{}) error
	EmitRaw(event, args string) error
}

func sendLine(s sender, line string) error {
	cmd, err := parseLine(line)
	if errors.Is(err, errEmptyLine) {
		return nil
	}
	if err != nil {
		return err
	}

	switch cmd.kind {
	case lineJSON:
		return s.SendJSON(json.RawMessage(cmd.data))
	case lineEvent:
		return s.EmitRaw(cmd.name, cmd.data)
	default:
		return s.Send(cmd.data)
	}
}

// printer writes inbound traffic to out, one line per notification
type printer struct {
	out io.Writer
	mu  sync.Mutex
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) message(text string) {
	p.printf("%s\n", text)
}

func (p *printer) json(data json.RawMessage) {
	p.printf("json %s\n", data)
}

func (p *printer) event(name string, args json.RawMessage) {
	p.printf("event %s %s\n", name, args)
}

func (p *printer) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}
