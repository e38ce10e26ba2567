package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/0x5487/tableorder/protocol"
)

// commandLine is one line of a command file:
//
//	{"op":"add","table":5,"item":"Cola","quantity":2}
//	{"op":"remove","table":5,"item":"Cola","quantity":1}
//	{"op":"complete","table":5}
type commandLine struct {
	Op       string `json:"op"`
	Table    int    `json:"table"`
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

// readCommands parses r into command envelopes numbered from firstSeqID.
// Blank lines and lines starting with # are skipped.
func readCommands(r io.Reader, serializer protocol.Serializer, firstSeqID uint64) ([]*protocol.Command, error) {
	var commands []*protocol.Command
	seqID := firstSeqID

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var line commandLine
		dec := json.NewDecoder(strings.NewReader(text))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		cmd, err := line.toCommand(serializer, seqID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		commands = append(commands, cmd)
		seqID++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return commands, nil
}

func (l commandLine) toCommand(serializer protocol.Serializer, seqID uint64) (*protocol.Command, error) {
	switch l.Op {
	case "add":
		return protocol.NewCommand(serializer, seqID, protocol.CmdAddItem, &protocol.AddItemCommand{
			TableNumber: l.Table,
			ItemName:    l.Item,
			Quantity:    l.Quantity,
		})
	case "remove":
		return protocol.NewCommand(serializer, seqID, protocol.CmdRemoveItem, &protocol.RemoveItemCommand{
			TableNumber: l.Table,
			ItemName:    l.Item,
			Quantity:    l.Quantity,
		})
	case "complete":
		return protocol.NewCommand(serializer, seqID, protocol.CmdCompleteTable, &protocol.CompleteTableCommand{
			TableNumber: l.Table,
		})
	default:
		return nil, fmt.Errorf("unknown op %q", l.Op)
	}
}
