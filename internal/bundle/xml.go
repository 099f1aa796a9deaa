package bundle

import (
	"encoding/xml"
	"fmt"
	"strings"
)

type xmlUnit struct {
	FileName        string  `xml:"workFileName"`
	TransactionID   *string `xml:"transactionId,omitempty"`
	FailedToParse   bool    `xml:"failedToParse"`
	FailedToProcess bool    `xml:"failedToProcess"`
}

type xmlBundle struct {
	XMLName          xml.Name  `xml:"workBundle"`
	ID               string    `xml:"bundleId"`
	OutputRoot       string    `xml:"outputRoot"`
	EatPrefix        string    `xml:"eatPrefix"`
	CaseID           string    `xml:"caseId"`
	SentTo           string    `xml:"sentTo"`
	ErrorCount       int       `xml:"errorCount"`
	Priority         int       `xml:"priority"`
	SimpleMode       bool      `xml:"simpleMode"`
	OldestFileTime   int64     `xml:"oldestFileModificationTime"`
	YoungestFileTime int64     `xml:"youngestFileModificationTime"`
	TotalFileSize    int64     `xml:"totalFileSize"`
	Units            []xmlUnit `xml:"workUnit"`
}

// PendingList is the text form of several bundles, used by debug surfaces.
type PendingList struct {
	XMLName xml.Name    `xml:"pending"`
	Bundles []xmlBundle `xml:"workBundle"`
}

func (b *Bundle) toXMLTree() xmlBundle {
	tree := xmlBundle{
		ID:               b.ID,
		OutputRoot:       Deref(b.OutputRoot),
		EatPrefix:        Deref(b.EatPrefix),
		CaseID:           Deref(b.CaseID),
		SentTo:           Deref(b.SentTo),
		ErrorCount:       b.ErrorCount,
		Priority:         b.Priority,
		SimpleMode:       b.SimpleMode,
		OldestFileTime:   b.OldestFileTime,
		YoungestFileTime: b.YoungestFileTime,
		TotalFileSize:    b.TotalFileSize,
		Units:            make([]xmlUnit, 0, len(b.units)),
	}
	for _, u := range b.units {
		tree.Units = append(tree.Units, xmlUnit{
			FileName:        u.FileName,
			TransactionID:   u.TransactionID,
			FailedToParse:   u.FailedToParse,
			FailedToProcess: u.FailedToProcess,
		})
	}
	return tree
}

// ToXML renders the bundle as an indented <workBundle> document.
func (b *Bundle) ToXML() ([]byte, error) {
	out, err := xml.MarshalIndent(b.toXMLTree(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal xml: %w", err)
	}
	return out, nil
}

// FromXML builds a bundle from its text form. Whitespace-only string
// elements are treated as unset; any other value is kept as written.
func FromXML(data []byte) (*Bundle, error) {
	var tree xmlBundle
	if err := xml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(tree.Units) > MaxUnits {
		return nil, newErrCapacity(len(tree.Units), 0)
	}
	b := &Bundle{
		ID:               strings.TrimSpace(tree.ID),
		OutputRoot:       optionalText(tree.OutputRoot),
		EatPrefix:        optionalText(tree.EatPrefix),
		CaseID:           optionalText(tree.CaseID),
		SentTo:           optionalText(tree.SentTo),
		ErrorCount:       tree.ErrorCount,
		Priority:         tree.Priority,
		SimpleMode:       tree.SimpleMode,
		OldestFileTime:   tree.OldestFileTime,
		YoungestFileTime: tree.YoungestFileTime,
		TotalFileSize:    tree.TotalFileSize,
		units:            make([]Unit, 0, len(tree.Units)),
	}
	for _, xu := range tree.Units {
		u := Unit{
			FileName:        xu.FileName,
			FailedToParse:   xu.FailedToParse,
			FailedToProcess: xu.FailedToProcess,
		}
		if xu.TransactionID != nil {
			u.TransactionID = optionalText(*xu.TransactionID)
		}
		b.units = append(b.units, u)
	}
	return b, nil
}

func optionalText(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// PendingXML renders a list of bundles as a <pending> document.
func PendingXML(bundles []*Bundle) ([]byte, error) {
	list := PendingList{Bundles: make([]xmlBundle, 0, len(bundles))}
	for _, b := range bundles {
		list.Bundles = append(list.Bundles, b.toXMLTree())
	}
	out, err := xml.MarshalIndent(list, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal xml: %w", err)
	}
	return out, nil
}
