// Package sed loads a Substation Exchange Description (SCL-dialect XML)
// file into a list of fully-qualified rgoose.ControlBlock values (§4.3).
//
// Resolution happens in a single pass: every GSEControl/SampledValueControl
// is matched against its owning Communication-section entry while walking
// the document once, rather than mutating a shared lookup structure as
// iteration proceeds. The source this profile was distilled from did the
// latter and relied on iterating a copy of a map value it popped from,
// which only worked by accident of range semantics; see the project's
// design notes for the one genuine bug that pattern produced.
package sed

import (
	"encoding/xml"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	ied "github.com/rgoose90/ied"
)

// scl mirrors just the subset of the SCL schema this loader reads.
type scl struct {
	XMLName       xml.Name      `xml:"SCL"`
	Communication communication `xml:"Communication"`
	IEDs          []iedElem     `xml:"IED"`
}

type communication struct {
	SubNetworks []subNetwork `xml:"SubNetwork"`
}

type subNetwork struct {
	ConnectedAPs []connectedAP `xml:"ConnectedAP"`
}

type connectedAP struct {
	IEDName string     `xml:"iedName,attr"`
	GSE     []gseOrSMV `xml:"GSE"`
	SMV     []gseOrSMV `xml:"SMV"`
}

type gseOrSMV struct {
	LdInst  string     `xml:"ldInst,attr"`
	CBName  string     `xml:"cbName,attr"`
	Address addressSCL `xml:"Address"`
}

type addressSCL struct {
	P []addressP `xml:"P"`
}

type addressP struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type iedElem struct {
	Name       string      `xml:"name,attr"`
	AccessPoint accessPoint `xml:"AccessPoint"`
}

type accessPoint struct {
	LDevices []lDevice `xml:"LDevice"`
}

type lDevice struct {
	Inst string `xml:"inst,attr"`
	LN0  ln0    `xml:"LN0"`
}

type ln0 struct {
	LNClass               string                  `xml:"lnClass,attr"`
	DataSets              []dataSet               `xml:"DataSet"`
	GSEControls           []controlElem           `xml:"GSEControl"`
	SampledValueControls  []controlElem           `xml:"SampledValueControl"`
}

type controlElem struct {
	Name      string     `xml:"Name,attr"`
	DatSet    string     `xml:"datSet,attr"`
	IEDNames  []string   `xml:"IEDName"`
}

type dataSet struct {
	Name  string  `xml:"name,attr"`
	FCDAs []fcda  `xml:"FCDA"`
}

type fcda struct {
	LNClass string `xml:"lnClass,attr"`
	DoName  string `xml:"doName,attr"`
	DaName  string `xml:"daName,attr"`
}

// partial is the step-2 result for one Communication-section entry: a
// Control Block not yet qualified with its <ldInst>/<lnClass>. prefix.
type partial struct {
	cb     *ied.ControlBlock
	ldInst string
}

// Load parses the SED file at path and returns the fully-qualified Control
// Blocks it describes, in document order.
func Load(path string) ([]*ied.ControlBlock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading SED file: %v", ied.ErrConfigFatal, err)
	}

	var doc scl
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing SED XML: %v", ied.ErrConfigFatal, err)
	}
	if doc.XMLName.Local != "SCL" {
		return nil, fmt.Errorf("%w: root element is %q, want SCL", ied.ErrConfigFatal, doc.XMLName.Local)
	}

	partials, err := collectControlBlocks(doc)
	if err != nil {
		return nil, err
	}

	if err := qualify(doc, partials); err != nil {
		return nil, err
	}

	out := make([]*ied.ControlBlock, 0, len(partials))
	for _, p := range partials {
		out = append(out, p.cb)
	}
	return out, nil
}

// collectControlBlocks implements §4.3 step 2: one partial Control Block
// per GSE/SMV element under Communication/SubNetwork/ConnectedAP.
func collectControlBlocks(doc scl) ([]*partial, error) {
	var out []*partial
	for _, sn := range doc.Communication.SubNetworks {
		for _, ap := range sn.ConnectedAPs {
			for _, g := range ap.GSE {
				p, err := newPartial(ap.IEDName, ied.KindGOOSE, g)
				if err != nil {
					return nil, err
				}
				out = append(out, p)
			}
			for _, s := range ap.SMV {
				p, err := newPartial(ap.IEDName, ied.KindSV, s)
				if err != nil {
					return nil, err
				}
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func newPartial(iedName string, kind ied.Kind, elem gseOrSMV) (*partial, error) {
	if elem.LdInst == "" {
		return nil, fmt.Errorf("%w: %s control block %q has no ldInst", ied.ErrConfigFatal, kind, elem.CBName)
	}
	if elem.CBName == "" {
		return nil, fmt.Errorf("%w: %s control block under IED %q has no cbName", ied.ErrConfigFatal, kind, iedName)
	}

	cb := &ied.ControlBlock{
		HostIED: iedName,
		Kind:    kind,
		CBName:  elem.CBName,
	}

	for _, p := range elem.Address.P {
		switch p.Type {
		case "IP":
			cb.MulticastIP = net.ParseIP(strings.TrimSpace(p.Value))
			if cb.MulticastIP == nil {
				return nil, fmt.Errorf("%w: control block %q has invalid multicast IP %q", ied.ErrConfigFatal, elem.CBName, p.Value)
			}
		case "APPID":
			appID, err := strconv.ParseUint(strings.TrimSpace(p.Value), 16, 16)
			if err != nil {
				return nil, fmt.Errorf("%w: control block %q has invalid APPID %q: %v", ied.ErrConfigFatal, elem.CBName, p.Value, err)
			}
			cb.AppID = uint16(appID)
		case "VLAN-ID":
			vlanID, err := strconv.ParseUint(strings.TrimSpace(p.Value), 16, 16)
			if err != nil {
				return nil, fmt.Errorf("%w: control block %q has invalid VLAN-ID %q: %v", ied.ErrConfigFatal, elem.CBName, p.Value, err)
			}
			cb.VLANID = uint16(vlanID)
		}
	}
	if cb.MulticastIP == nil {
		return nil, fmt.Errorf("%w: control block %q has no Address/P[@type=IP]", ied.ErrConfigFatal, elem.CBName)
	}

	return &partial{cb: cb, ldInst: elem.LdInst}, nil
}

// qualify implements §4.3 step 3 in a single pass: for every IED, every
// LDevice, every GSEControl/SampledValueControl, find the matching partial
// by (hostIED, not-yet-qualified cbName) and fill in its prefix, dataset
// members and subscribers. No shared structure is mutated as the walk
// proceeds; each partial is qualified at most once.
func qualify(doc scl, partials []*partial) error {
	byHostAndName := make(map[string]*partial, len(partials))
	for _, p := range partials {
		byHostAndName[p.cb.HostIED+"\x00"+p.cb.CBName] = p
	}

	for _, iedNode := range doc.IEDs {
		for _, ld := range iedNode.AccessPoint.LDevices {
			prefix := ld.Inst + "/" + ld.LN0.LNClass + "."

			controls := append([]controlElem{}, ld.LN0.GSEControls...)
			controls = append(controls, ld.LN0.SampledValueControls...)

			for _, ctrl := range controls {
				key := iedNode.Name + "\x00" + ctrl.Name
				p, ok := byHostAndName[key]
				if !ok {
					continue
				}

				p.cb.CBName = prefix + ctrl.Name
				p.cb.Subscribers = append([]string(nil), ctrl.IEDNames...)

				// datSet applies only to GSEControl: a SampledValueControl
				// may carry a datSet attribute in SCL, but §3 defines no
				// role for it in the SV PDU, so it's deliberately not
				// resolved or qualified onto the Control Block here.
				if p.cb.Kind == ied.KindGOOSE {
					members, err := resolveDataSet(iedNode.Name, ld.LN0, ctrl.DatSet)
					if err != nil {
						return err
					}
					p.cb.DatSetName = prefix + ctrl.DatSet
					p.cb.DatSetMembers = members
				}
			}
		}
	}

	for _, p := range partials {
		if err := p.cb.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func resolveDataSet(iedName string, ln ln0, datSetName string) ([]string, error) {
	for _, ds := range ln.DataSets {
		if ds.Name != datSetName {
			continue
		}
		members := make([]string, 0, len(ds.FCDAs))
		for _, f := range ds.FCDAs {
			members = append(members, iedName+"."+f.LNClass+"."+f.DoName+"."+f.DaName)
		}
		if len(members) == 0 {
			return nil, fmt.Errorf("%w: dataset %q has no FCDA members", ied.ErrConfigFatal, datSetName)
		}
		return members, nil
	}
	return nil, fmt.Errorf("%w: no DataSet named %q found in LN0", ied.ErrConfigFatal, datSetName)
}
