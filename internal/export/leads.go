package export

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Lead is one scraped map listing.
type Lead struct {
	Title         Text `json:"title"`
	Note          Text `json:"note"`
	ClosedStatus  Text `json:"closedStatus"`
	Rating        Text `json:"rating"`
	ReviewCount   Text `json:"reviewCount"`
	Phone         Text `json:"phone"`
	Industry      Text `json:"industry"`
	Expensiveness Text `json:"expensiveness"`
	City          Text `json:"city"`
	Address       Text `json:"address"`
	CompanyURL    Text `json:"companyUrl"`
	InstaSearch   Text `json:"instaSearch"`
	Href          Text `json:"href"`
}

// Text is a lead field. Scraped values are usually strings but numbers and
// null occur too.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*t = ""
	case string:
		*t = Text(x)
	case float64:
		*t = Text(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		*t = Text(strconv.FormatBool(x))
	default:
		return fmt.Errorf("unsupported lead value %s", b)
	}
	return nil
}

// LeadFile is the stored scraper state.
type LeadFile struct {
	Results          []Lead   `json:"gmes_results"`
	IgnoreNames      []string `json:"gmes_ignore_names"`
	IgnoreIndustries []string `json:"gmes_ignore_industries"`
}

// ReadLeads decodes either a bare array of leads or a LeadFile object.
func ReadLeads(r io.Reader) (LeadFile, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return LeadFile{}, fmt.Errorf("reading leads: %w", err)
	}
	trimmed := strings.TrimSpace(string(raw))
	var lf LeadFile
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(raw, &lf.Results); err != nil {
			return LeadFile{}, fmt.Errorf("decoding leads: %w", err)
		}
		return lf, nil
	}
	if err := json.Unmarshal(raw, &lf); err != nil {
		return LeadFile{}, fmt.Errorf("decoding leads: %w", err)
	}
	return lf, nil
}

// LeadOptions filters the exported leads.
type LeadOptions struct {
	IgnoreNames      []string
	IgnoreIndustries []string
}

// LeadHeaders is the header row of the lead spreadsheet.
var LeadHeaders = []string{
	"Title", "Note", "Closed Status", "Rating", "Reviews", "Phone", "Industry",
	"Expensiveness", "City", "Address", "Website", "Insta Search", "Google Maps Link",
}

const mapsPrefix = "https://www.google.com/maps"

// FilterLeads drops duplicates and ignored leads, keeping the first
// occurrence. Leads are keyed by their maps link, else by title and address.
func FilterLeads(leads []Lead, opts LeadOptions) []Lead {
	names := normalize(opts.IgnoreNames)
	industries := normalize(opts.IgnoreIndustries)

	seen := make(map[string]bool, len(leads))
	out := make([]Lead, 0, len(leads))
	for _, l := range leads {
		key := string(l.Href)
		if key == "" {
			key = string(l.Title) + "|" + string(l.Address)
		}
		if seen[key] {
			continue
		}
		if containsAny(string(l.Title), names) || containsAny(string(l.Industry), industries) {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}

func normalize(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(value string, needles []string) bool {
	if value == "" {
		return false
	}
	value = strings.ToLower(value)
	for _, n := range needles {
		if strings.Contains(value, n) {
			return true
		}
	}
	return false
}

// LeadsXLS writes leads as an HTML table that spreadsheet applications open
// as an .xls workbook with working hyperlinks.
func LeadsXLS(w io.Writer, leads []Lead, opts LeadOptions) error {
	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})

	root := element(atom.Html)
	doc.AppendChild(root)
	head := element(atom.Head)
	head.AppendChild(element(atom.Meta, html.Attribute{Key: "charset", Val: "utf-8"}))
	root.AppendChild(head)
	body := element(atom.Body)
	root.AppendChild(body)

	table := element(atom.Table,
		html.Attribute{Key: "border", Val: "1"},
		html.Attribute{Key: "style", Val: "border-collapse:collapse;"},
	)
	body.AppendChild(table)

	thead := element(atom.Thead)
	hr := element(atom.Tr)
	for _, h := range LeadHeaders {
		th := element(atom.Th)
		th.AppendChild(text(h))
		hr.AppendChild(th)
	}
	thead.AppendChild(hr)
	table.AppendChild(thead)

	tbody := element(atom.Tbody)
	for _, l := range FilterLeads(leads, opts) {
		tbody.AppendChild(leadRow(l))
	}
	table.AppendChild(tbody)

	if err := html.Render(w, doc); err != nil {
		return fmt.Errorf("rendering leads: %w", err)
	}
	return nil
}

var parens = regexp.MustCompile(`[()]`)

func leadRow(l Lead) *html.Node {
	tr := element(atom.Tr)
	cells := []*html.Node{
		textCell(string(l.Title)),
		textCell(string(l.Note)),
		textCell(string(l.ClosedStatus)),
		textCell(string(l.Rating)),
		textCell(parens.ReplaceAllString(string(l.ReviewCount), "")),
		textCell(string(l.Phone)),
		textCell(string(l.Industry)),
		textCell(string(l.Expensiveness)),
		textCell(string(l.City)),
		textCell(string(l.Address)),
		websiteCell(l),
		instaCell(string(l.InstaSearch)),
		mapsCell(string(l.Href)),
	}
	for _, c := range cells {
		tr.AppendChild(c)
	}
	return tr
}

func websiteCell(l Lead) *html.Node {
	site := string(l.CompanyURL)
	if site != "" && !strings.HasPrefix(site, mapsPrefix) {
		return linkCell(site, "Goto Website")
	}
	var parts []string
	if l.Title != "" {
		parts = append(parts, string(l.Title))
	}
	if l.City != "" {
		parts = append(parts, string(l.City))
	}
	parts = append(parts, "Website")
	return linkCell(WebsiteSearchURL(strings.Join(parts, " ")), "Search For Website")
}

func instaCell(link string) *html.Node {
	if link == "" {
		return element(atom.Td)
	}
	label := link
	if u, err := url.Parse(link); err == nil {
		if q := u.Query().Get("q"); q != "" {
			label = q
		}
	}
	return linkCell(link, label)
}

func mapsCell(link string) *html.Node {
	if link == "" {
		return element(atom.Td)
	}
	return linkCell(link, "Open In Google maps")
}

// WebsiteSearchURL returns a web search for query.
func WebsiteSearchURL(query string) string {
	return "https://www.google.com/search?q=" + encodeURIComponent(query)
}

var componentUnescaper = strings.NewReplacer("+", "%20", "%21", "!", "%27", "'", "%28", "(", "%29", ")", "%2A", "*")

// encodeURIComponent escapes s the way browsers do for a URI component.
func encodeURIComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// LeadsFilename turns a user-typed name into the export file name.
func LeadsFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "google-maps-data.xls"
	}
	return strings.ToLower(nonAlnum.ReplaceAllString(name, "_")) + ".xls"
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func textCell(s string) *html.Node {
	td := element(atom.Td)
	if s != "" {
		td.AppendChild(text(s))
	}
	return td
}

func linkCell(href, label string) *html.Node {
	td := element(atom.Td)
	a := element(atom.A,
		html.Attribute{Key: "href", Val: href},
		html.Attribute{Key: "target", Val: "_blank"},
		html.Attribute{Key: "rel", Val: "noopener noreferrer"},
	)
	a.AppendChild(text(label))
	td.AppendChild(a)
	return td
}
