package harvester

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// item is a single record served by fakeRepository.
type item struct {
	id      string
	deleted bool
}

// fakeRepository is a minimal OAI-PMH server. List responses are paged with
// the offset as resumption token.
type fakeRepository struct {
	mu       sync.Mutex
	items    []item
	sets     []Set
	pageSize int
	failing  map[string]bool
	requests []url.Values
}

func (f *fakeRepository) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := r.URL.Query()
	f.requests = append(f.requests, q)
	verb := q.Get("verb")
	if verb == "GetRecord" && f.failing[q.Get("identifier")] {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	var body strings.Builder
	switch verb {
	case "Identify":
		body.WriteString(`<Identify><repositoryName>Fake</repositoryName><baseURL>http://fake/oai</baseURL>` +
			`<protocolVersion>2.0</protocolVersion><earliestDatestamp>2000-01-01</earliestDatestamp></Identify>`)
	case "ListMetadataFormats":
		body.WriteString(`<ListMetadataFormats><metadataFormat><metadataPrefix>oai_dc</metadataPrefix>` +
			`<schema>http://www.openarchives.org/OAI/2.0/oai_dc.xsd</schema></metadataFormat></ListMetadataFormats>`)
	case "ListSets":
		body.WriteString("<ListSets>")
		for _, s := range f.sets {
			fmt.Fprintf(&body, "<set><setSpec>%s</setSpec><setName>%s</setName></set>", s.Spec, s.Name)
		}
		body.WriteString("</ListSets>")
	case "ListIdentifiers", "ListRecords":
		if len(f.items) == 0 {
			body.WriteString(`<error code="noRecordsMatch">no records</error>`)
			break
		}
		offset, _ := strconv.Atoi(q.Get("resumptionToken"))
		end := len(f.items)
		if f.pageSize > 0 && offset+f.pageSize < end {
			end = offset + f.pageSize
		}
		body.WriteString("<" + verb + ">")
		for _, it := range f.items[offset:end] {
			if verb == "ListIdentifiers" {
				body.WriteString(headerXML(it))
			} else {
				body.WriteString(recordXML(it))
			}
		}
		if end < len(f.items) {
			fmt.Fprintf(&body, `<resumptionToken cursor="%d" completeListSize="%d">%d</resumptionToken>`,
				offset, len(f.items), end)
		}
		body.WriteString("</" + verb + ">")
	case "GetRecord":
		id := q.Get("identifier")
		found := false
		for _, it := range f.items {
			if it.id == id {
				fmt.Fprintf(&body, "<GetRecord>%s</GetRecord>", recordXML(it))
				found = true
				break
			}
		}
		if !found {
			body.WriteString(`<error code="idDoesNotExist">unknown identifier</error>`)
		}
	default:
		body.WriteString(`<error code="badVerb">illegal verb</error>`)
	}
	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+
		`<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/"><responseDate>2022-03-01T00:00:00Z</responseDate>`+
		`<request verb="%s">http://fake/oai</request>%s</OAI-PMH>`, verb, body.String())
}

// count returns how many requests with the given verb and optional
// identifier were served.
func (f *fakeRepository) count(verb, identifier string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, q := range f.requests {
		if q.Get("verb") == verb && (identifier == "" || q.Get("identifier") == identifier) {
			n++
		}
	}
	return n
}

func headerXML(it item) string {
	status := ""
	if it.deleted {
		status = ` status="deleted"`
	}
	return fmt.Sprintf(`<header%s><identifier>%s</identifier><datestamp>2017-12-14</datestamp></header>`, status, it.id)
}

func recordXML(it item) string {
	if it.deleted {
		return "<record>" + headerXML(it) + "</record>"
	}
	return "<record>" + headerXML(it) + `<metadata><oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/" ` +
		`xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Title of ` + it.id + `</dc:title></oai_dc:dc></metadata></record>`
}

func newFakeServer(t *testing.T, repo *fakeRepository) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(repo)
	t.Cleanup(srv.Close)
	return srv
}

// items returns n active items with identifiers oai:fake:1 to oai:fake:n.
func items(n int) []item {
	var its []item
	for i := 1; i <= n; i++ {
		its = append(its, item{id: fmt.Sprintf("oai:fake:%d", i)})
	}
	return its
}
