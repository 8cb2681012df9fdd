package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/wirebus/wirebus-go/pkg/version"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeHubTXT creates the TXT records a hub advertises.
func EncodeHubTXT(info *HubInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	v := info.Version
	if v == "" {
		v = version.Current
	}
	txt[TXTKeyVersion] = v
	txt[TXTKeyHubID] = info.ID

	if info.Connections > 0 {
		txt[TXTKeyConnections] = strconv.Itoa(info.Connections)
	}
	return txt
}

// DecodeHubTXT parses hub TXT records. A hub with a different major
// version is reported as ErrIncompatible.
func DecodeHubTXT(txt TXTRecordMap) (*HubInfo, error) {
	info := &HubInfo{}

	v, ok := txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	parsed, err := version.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTXTRecord, err)
	}
	current, _ := version.Parse(version.Current)
	if !current.Compatible(parsed) {
		return nil, fmt.Errorf("%w: %s", ErrIncompatible, v)
	}
	info.Version = v

	info.ID, ok = txt[TXTKeyHubID]
	if !ok || info.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyHubID)
	}

	if s, ok := txt[TXTKeyConnections]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad connection count %q", ErrInvalidTXTRecord, s)
		}
		info.Connections = n
	}
	return info, nil
}

// TXTRecordsToStrings converts a TXT record map to "key=value" strings,
// sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings. Entries without "=" and
// entries with an empty key are skipped.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(strs))
	for _, s := range strs {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			continue
		}
		txt[k] = v
	}
	return txt
}
