package claw

import (
	"fmt"
	"strings"
)

// Severity of a controller status condition.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "OK"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// MarshalText makes severities readable in JSON.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names written by MarshalText.
func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "OK":
		*s = SeverityOK
	case "WARN":
		*s = SeverityWarn
	case "ERROR":
		*s = SeverityError
	default:
		return fmt.Errorf("claw: unknown severity %q", b)
	}
	return nil
}

// StatusCode describes one bit of the status word.
type StatusCode struct {
	Bit         uint16   `json:"bit"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Normal is the meaning of a zero status word.
var Normal = StatusCode{Bit: 0x0000, Severity: SeverityOK, Description: "Normal"}

// StatusCodes maps each status bit to its severity and description.
var StatusCodes = [16]StatusCode{
	{0x0001, SeverityWarn, "M1 over current"},
	{0x0002, SeverityWarn, "M2 over current"},
	{0x0004, SeverityError, "Emergency Stop"},
	{0x0008, SeverityError, "Temperature1"},
	{0x0010, SeverityError, "Temperature2"},
	{0x0020, SeverityError, "Main batt voltage high"},
	{0x0040, SeverityError, "Logic batt voltage high"},
	{0x0080, SeverityError, "Logic batt voltage low"},
	{0x0100, SeverityWarn, "M1 driver fault"},
	{0x0200, SeverityWarn, "M2 driver fault"},
	{0x0400, SeverityWarn, "Main batt voltage high"},
	{0x0800, SeverityWarn, "Main batt voltage low"},
	{0x1000, SeverityWarn, "Temperature1"},
	{0x2000, SeverityWarn, "Temperature2"},
	{0x4000, SeverityOK, "M1 home"},
	{0x8000, SeverityOK, "M2 home"},
}

// Codes returns the full table, Normal first.
func Codes() []StatusCode {
	out := make([]StatusCode, 0, len(StatusCodes)+1)
	out = append(out, Normal)
	return append(out, StatusCodes[:]...)
}

// Status is a decoded status word.
type Status struct {
	Word     uint16       `json:"word"`
	Severity Severity     `json:"severity"` // worst of Codes
	Codes    []StatusCode `json:"codes"`
}

// DecodeStatus splits a status word into its set bits.
func DecodeStatus(word uint16) Status {
	st := Status{Word: word}
	if word == 0 {
		st.Codes = []StatusCode{Normal}
		return st
	}
	for _, c := range StatusCodes {
		if word&c.Bit == 0 {
			continue
		}
		st.Codes = append(st.Codes, c)
		if c.Severity > st.Severity {
			st.Severity = c.Severity
		}
	}
	return st
}

func (s Status) String() string {
	parts := make([]string, len(s.Codes))
	for i, c := range s.Codes {
		parts[i] = c.Description
	}
	return fmt.Sprintf("%s 0x%04x: %s", s.Severity, s.Word, strings.Join(parts, ", "))
}
