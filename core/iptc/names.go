package iptc

import (
	"fmt"
	"strconv"
	"strings"
)

// Key names a dataset.
type Key struct {
	Record byte
	ID     byte
}

func (k Key) String() string {
	group := "Envelope"
	if k.Record == RecordApplication {
		group = "Application2"
	} else if k.Record != RecordEnvelope {
		group = "Record" + strconv.Itoa(int(k.Record))
	}
	if name, ok := names[k]; ok {
		return "Iptc." + group + "." + name
	}
	return fmt.Sprintf("Iptc.%s.0x%04x", group, k.ID)
}

// Repeatable reports whether the dataset may occur more than once.
func (k Key) Repeatable() bool { return repeatable[k] }

var names = map[Key]string{
	{1, 0}:   "ModelVersion",
	{1, 90}:  "CharacterSet",
	{2, 0}:   "RecordVersion",
	{2, 5}:   "ObjectName",
	{2, 7}:   "EditStatus",
	{2, 10}:  "Urgency",
	{2, 12}:  "Subject",
	{2, 15}:  "Category",
	{2, 20}:  "SuppCategory",
	{2, 25}:  "Keywords",
	{2, 26}:  "LocationCode",
	{2, 27}:  "LocationName",
	{2, 30}:  "ReleaseDate",
	{2, 35}:  "ReleaseTime",
	{2, 40}:  "SpecialInstructions",
	{2, 55}:  "DateCreated",
	{2, 60}:  "TimeCreated",
	{2, 62}:  "DigitizationDate",
	{2, 63}:  "DigitizationTime",
	{2, 65}:  "Program",
	{2, 70}:  "ProgramVersion",
	{2, 80}:  "Byline",
	{2, 85}:  "BylineTitle",
	{2, 90}:  "City",
	{2, 92}:  "SubLocation",
	{2, 95}:  "ProvinceState",
	{2, 100}: "CountryCode",
	{2, 101}: "CountryName",
	{2, 103}: "TransmissionReference",
	{2, 105}: "Headline",
	{2, 110}: "Credit",
	{2, 115}: "Source",
	{2, 116}: "Copyright",
	{2, 118}: "Contact",
	{2, 120}: "Caption",
	{2, 122}: "Writer",
}

var repeatable = map[Key]bool{
	{2, 12}:  true,
	{2, 20}:  true,
	{2, 25}:  true,
	{2, 26}:  true,
	{2, 27}:  true,
	{2, 80}:  true,
	{2, 85}:  true,
	{2, 118}: true,
	{2, 122}: true,
}

var nameKeys = func() map[string]Key {
	m := make(map[string]Key, len(names))
	for k, n := range names {
		m[strings.ToLower(n)] = k
	}
	// common spellings
	m["by-line"] = Key{2, 80}
	m["by-linetitle"] = Key{2, 85}
	m["caption-abstract"] = Key{2, 120}
	m["copyrightnotice"] = Key{2, 116}
	m["country"] = Key{2, 101}
	m["province"] = Key{2, 95}
	return m
}()

// LookupName resolves "Keywords", "Iptc.Application2.Keywords" or "2:25".
func LookupName(name string) (Key, bool) {
	s := strings.TrimSpace(name)
	if rec, id, ok := strings.Cut(s, ":"); ok {
		r, err1 := strconv.ParseUint(rec, 10, 8)
		i, err2 := strconv.ParseUint(id, 10, 8)
		if err1 != nil || err2 != nil {
			return Key{}, false
		}
		return Key{byte(r), byte(i)}, true
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	k, ok := nameKeys[strings.ToLower(s)]
	return k, ok
}
