package protocol

import (
	"fmt"

	"github.com/danmuck/posewire/internal/protocol/frame"
)

// Command is one of the closed set of pose-service messages.
type Command uint8

const (
	CommandUnknown Command = iota
	CommandError
	CommandOK
	CommandGetPose
	CommandRetPose
	CommandSetIntrinsics
	CommandGetViz
	CommandRetViz
	CommandGetScore
	CommandRetScore
	CommandSetGridSize
)

type commandInfo struct {
	code frame.Code
	name string
}

var (
	// commandTable is fixed at init and never written afterwards.
	commandTable = map[Command]commandInfo{
		CommandError:         {code: code("RERR"), name: "ERROR"},
		CommandOK:            {code: code("OKOK"), name: "OK"},
		CommandGetPose:       {code: code("GETP"), name: "GET_POSE"},
		CommandRetPose:       {code: code("RETP"), name: "RET_POSE"},
		CommandSetIntrinsics: {code: code("INTR"), name: "SET_INTRINSICS"},
		CommandGetViz:        {code: code("GETV"), name: "GET_VIZ"},
		CommandRetViz:        {code: code("RETV"), name: "RET_VIZ"},
		CommandGetScore:      {code: code("GSCO"), name: "GET_SCORE"},
		CommandRetScore:      {code: code("RSCO"), name: "RET_SCORE"},
		CommandSetGridSize:   {code: code("SO3G"), name: "SET_GRID_SIZE"},
	}
	codeTable = invert(commandTable)
)

func code(s string) frame.Code {
	if len(s) != frame.CodeLen {
		panic(fmt.Sprintf("protocol: code %q is not %d bytes", s, frame.CodeLen))
	}
	var c frame.Code
	copy(c[:], s)
	return c
}

func invert(table map[Command]commandInfo) map[frame.Code]Command {
	out := make(map[frame.Code]Command, len(table))
	for cmd, info := range table {
		if prev, dup := out[info.code]; dup {
			panic(fmt.Sprintf("protocol: code %s shared by %d and %d", info.code, prev, cmd))
		}
		out[info.code] = cmd
	}
	return out
}

// Commands returns every known command, excluding CommandUnknown.
func Commands() []Command {
	out := make([]Command, 0, len(commandTable))
	for cmd := CommandError; cmd <= CommandSetGridSize; cmd++ {
		out = append(out, cmd)
	}
	return out
}

// Code returns the wire code for c. CommandUnknown has no code and yields
// ok=false.
func (c Command) Code() (frame.Code, bool) {
	info, ok := commandTable[c]
	return info.code, ok
}

// CommandFromCode maps a wire code to its command. Unrecognised codes map to
// CommandUnknown so that framing never fails on them.
func CommandFromCode(c frame.Code) Command {
	if cmd, ok := codeTable[c]; ok {
		return cmd
	}
	return CommandUnknown
}

func (c Command) Known() bool {
	_, ok := commandTable[c]
	return ok
}

func (c Command) String() string {
	if info, ok := commandTable[c]; ok {
		return info.name
	}
	return "UNKNOWN"
}
