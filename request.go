//  Copyright 2015 by Leipzig University Library, http://ub.uni-leipzig.de
//                    The Finc Authors, http://finc.info
//                    Martin Czygan, <martin.czygan@uni-leipzig.de>
//
// This file is part of some open source application.
//
// Some open source application is free software: you can redistribute
// it and/or modify it under the terms of the GNU General Public
// License as published by the Free Software Foundation, either
// version 3 of the License, or (at your option) any later version.
//
// Some open source application is distributed in the hope that it will
// be useful, but WITHOUT ANY WARRANTY; without even the implied warranty
// of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Foobar.  If not, see <http://www.gnu.org/licenses/>.
//
// @license GPL-3.0+ <http://spdx.org/licenses/GPL-3.0+>

package harvester

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrNoEndpoint       = errors.New("request: an endpoint is required")
	ErrNoVerb           = errors.New("request: no verb")
	ErrBadVerb          = errors.New("request: bad verb")
	ErrTooManyRequests  = errors.New("too many requests")
	ErrNoRecordsMatch   = errors.New("no records match")
	ErrIDNotFound       = errors.New("id does not exist")
	ErrUnknownMethod    = errors.New("unknown retrieval method")
	ErrMaxAllowedErrors = errors.New("maximum allowed errors reached")

	// UserAgent to use for requests.
	UserAgent = fmt.Sprintf("oai-pmh-harvester/%s (https://github.com/MITLibraries/oai-pmh-harvester)", Version)
	// DefaultFormat should be supported by most endpoints.
	DefaultFormat = "oai_dc"
	// OAIVerbs (4. Protocol Requests and Responses)
	OAIVerbs = map[string]bool{
		"Identify":            true,
		"ListIdentifiers":     true,
		"ListSets":            true,
		"ListMetadataFormats": true,
		"ListRecords":         true,
		"GetRecord":           true,
	}
)

// Version of the harvester.
const Version = "1.0.0"

// OAIError wraps OAI error codes and messages (3.6 Error and Exception
// Conditions).
type OAIError struct {
	Code    string
	Message string
}

// Error to satisfy interface.
func (e OAIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is maps the protocol error codes the harvester reacts to onto sentinels.
func (e OAIError) Is(target error) bool {
	switch target {
	case ErrNoRecordsMatch:
		return e.Code == "noRecordsMatch"
	case ErrIDNotFound:
		return e.Code == "idDoesNotExist"
	}
	return false
}

// RequestError is returned when an HTTP request did not succeed, after the
// transport exhausted its retries.
type RequestError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Request can hold any parameter, that you want to send to an OAI server.
// Dates are passed through verbatim, so both day and seconds granularity
// work.
type Request struct {
	Endpoint        string
	Verb            string
	From            string
	Until           string
	Set             string
	Prefix          string
	Identifier      string
	ResumptionToken string
}

// URL returns the absolute URL for a given request. Catches basic errors like
// missing endpoint or bad verb.
func (r Request) URL() (string, error) {
	if r.Endpoint == "" {
		return "", ErrNoEndpoint
	}
	if r.Verb == "" {
		return "", ErrNoVerb
	}
	if !OAIVerbs[r.Verb] {
		return "", errors.Wrapf(ErrBadVerb, "%q", r.Verb)
	}

	values := url.Values{}
	values.Add("verb", r.Verb)

	// Collectively these requests are called list requests (3.5):
	// ListIdentifiers, ListRecords, ListSets
	if r.ResumptionToken != "" {
		// An exclusive argument with a value that is the flow control token.
		values.Add("resumptionToken", r.ResumptionToken)
		return fmt.Sprintf("%s?%s", r.Endpoint, values.Encode()), nil
	}

	maybeAdd := func(k, v string) {
		if v != "" {
			values.Add(k, v)
		}
	}
	switch r.Verb {
	case "ListRecords", "ListIdentifiers":
		maybeAdd("from", r.From)
		maybeAdd("until", r.Until)
		maybeAdd("set", r.Set)
		maybeAdd("metadataPrefix", r.Prefix)
	case "GetRecord":
		maybeAdd("identifier", r.Identifier)
		maybeAdd("metadataPrefix", r.Prefix)
	}
	return fmt.Sprintf("%s?%s", r.Endpoint, values.Encode()), nil
}

// resumptionToken is part of OAI flow control (3.5)
type resumptionToken struct {
	Value string `xml:",chardata"`
	// A UTCdatetime indicating when the resumptionToken ceases to be valid.
	ExpirationDate string `xml:"expirationDate,attr"`
	// A count of the number of elements of the complete list thus far
	// returned (i.e. cursor starts at 0).
	Cursor string `xml:"cursor,attr"`
	// An integer indicating the cardinality of the complete list. The value
	// may be only an estimate.
	CompleteListSize string `xml:"completeListSize,attr"`
}

// Header is the main response of ListIdentifiers requests and also
// transmitted with every record.
type Header struct {
	Status     string   `xml:"status,attr"`
	Identifier string   `xml:"identifier"`
	Datestamp  string   `xml:"datestamp"`
	SetSpecs   []string `xml:"setSpec"`
}

// Deleted reports whether the repository marked the item as deleted.
func (h Header) Deleted() bool {
	return h.Status == "deleted"
}

// Record is a single harvested record. Raw holds the complete record element
// as served by the repository.
type Record struct {
	Header Header
	Raw    string
}

// Identifier of the record.
func (r Record) Identifier() string { return r.Header.Identifier }

// Deleted reports the deleted status of the record.
func (r Record) Deleted() bool { return r.Header.Deleted() }

// recordNamespace is the default namespace of OAI-PMH response elements.
const recordNamespace = "http://www.openarchives.org/OAI/2.0/"

// rawRecord keeps the verbatim inner XML next to the parsed header. The
// prefixed namespace declarations in scope at the record element are kept
// as well, since the inner XML may use prefixes declared on an ancestor.
type rawRecord struct {
	Header Header `xml:"header"`
	Inner  string `xml:",innerxml"`

	namespaces []xml.Attr
}

func (r rawRecord) record() Record {
	var sb strings.Builder
	sb.WriteString(`<record xmlns="` + recordNamespace + `"`)
	for _, ns := range r.namespaces {
		sb.WriteString(" xmlns:" + ns.Name.Local + `="`)
		xml.EscapeText(&sb, []byte(ns.Value))
		sb.WriteString(`"`)
	}
	sb.WriteString(">" + r.Inner + "</record>")
	return Record{Header: r.Header, Raw: sb.String()}
}

// recordNamespaces returns, for every record element below ListRecords or
// GetRecord in document order, the prefixed namespace declarations in scope
// at that element, sorted by prefix.
func recordNamespaces(b []byte) ([][]xml.Attr, error) {
	type frame struct {
		name  string
		decls map[string]string
	}
	var (
		result [][]xml.Attr
		stack  []frame
	)
	dec := xml.NewDecoder(bytes.NewReader(b))
	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			f := frame{name: t.Name.Local}
			for _, attr := range t.Attr {
				if attr.Name.Space == "xmlns" && attr.Name.Local != "xml" {
					if f.decls == nil {
						f.decls = make(map[string]string)
					}
					f.decls[attr.Name.Local] = attr.Value
				}
			}
			stack = append(stack, f)
			if f.name != "record" || len(stack) < 2 {
				continue
			}
			if parent := stack[len(stack)-2].name; parent != "ListRecords" && parent != "GetRecord" {
				continue
			}
			scope := make(map[string]string)
			for _, outer := range stack {
				for prefix, uri := range outer.decls {
					scope[prefix] = uri
				}
			}
			prefixes := make([]string, 0, len(scope))
			for prefix := range scope {
				prefixes = append(prefixes, prefix)
			}
			sort.Strings(prefixes)
			attrs := make([]xml.Attr, 0, len(prefixes))
			for _, prefix := range prefixes {
				attrs = append(attrs, xml.Attr{Name: xml.Name{Space: "xmlns", Local: prefix}, Value: scope[prefix]})
			}
			result = append(result, attrs)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
}

// Set is a single entry of a ListSets response.
type Set struct {
	Name string `xml:"setName" json:"Set name"`
	Spec string `xml:"setSpec" json:"Set spec"`
}

// MetadataFormat is a single entry of a ListMetadataFormats response.
type MetadataFormat struct {
	Prefix    string `xml:"metadataPrefix" json:"prefix"`
	Schema    string `xml:"schema" json:"schema"`
	Namespace string `xml:"metadataNamespace" json:"namespace"`
}

// Identify response.
type Identify struct {
	Name              string   `xml:"repositoryName" json:"name,omitempty"`
	URL               string   `xml:"baseURL" json:"url,omitempty"`
	Version           string   `xml:"protocolVersion" json:"version,omitempty"`
	AdminEmail        []string `xml:"adminEmail" json:"email,omitempty"`
	EarliestDatestamp string   `xml:"earliestDatestamp" json:"earliest,omitempty"`
	DeletePolicy      string   `xml:"deletedRecord" json:"delete,omitempty"`
	Granularity       string   `xml:"granularity" json:"granularity,omitempty"`
}

// Response can hold most answers to a request to an OAI server.
type Response struct {
	Date    string `xml:"responseDate"`
	Request struct {
		Verb     string `xml:"verb,attr"`
		Endpoint string `xml:",chardata"`
	} `xml:"request"`
	Error struct {
		Code    string `xml:"code,attr"`
		Message string `xml:",chardata"`
	} `xml:"error"`
	Identify        Identify `xml:"Identify"`
	ListIdentifiers struct {
		Headers []Header        `xml:"header"`
		Token   resumptionToken `xml:"resumptionToken"`
	} `xml:"ListIdentifiers"`
	ListRecords struct {
		Records []rawRecord     `xml:"record"`
		Token   resumptionToken `xml:"resumptionToken"`
	} `xml:"ListRecords"`
	GetRecord struct {
		Record rawRecord `xml:"record"`
	} `xml:"GetRecord"`
	ListSets struct {
		Sets  []Set           `xml:"set"`
		Token resumptionToken `xml:"resumptionToken"`
	} `xml:"ListSets"`
	ListMetadataFormats struct {
		Formats []MetadataFormat `xml:"metadataFormat"`
	} `xml:"ListMetadataFormats"`
}

// resumptionToken returns the value of the flow control token for the verb
// that generated this response, if any.
func (r Response) resumptionToken(verb string) string {
	switch verb {
	case "ListIdentifiers":
		return r.ListIdentifiers.Token.Value
	case "ListRecords":
		return r.ListRecords.Token.Value
	case "ListSets":
		return r.ListSets.Token.Value
	}
	return ""
}

// decodeResponse parses an OAI response body.
func decodeResponse(r io.Reader) (Response, error) {
	var response Response
	b, err := io.ReadAll(r)
	if err != nil {
		return response, errors.Wrap(err, "read response")
	}
	if err := xml.Unmarshal(b, &response); err != nil {
		return response, errors.Wrap(err, "decode response")
	}
	if response.Error.Code != "" {
		return response, OAIError{Code: response.Error.Code, Message: response.Error.Message}
	}
	if len(response.ListRecords.Records) == 0 && response.GetRecord.Record.Header.Identifier == "" {
		return response, nil
	}
	namespaces, err := recordNamespaces(b)
	if err != nil {
		return response, errors.Wrap(err, "scan record namespaces")
	}
	if records := response.ListRecords.Records; len(records) > 0 {
		for i := range records {
			if i < len(namespaces) {
				records[i].namespaces = namespaces[i]
			}
		}
	} else if len(namespaces) > 0 {
		response.GetRecord.Record.namespaces = namespaces[0]
	}
	return response, nil
}
