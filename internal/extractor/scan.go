package extractor

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// fact is one ix:nonFraction or ix:nonNumeric occurrence, in document order.
type fact struct {
	concept string // local name, prefix stripped
	context string
	text    string
	scale   int
	format  string
	sign    string
}

type xbrlContext struct {
	end         time.Time // endDate or instant
	start       time.Time
	dimensional bool // has a segment or scenario
}

type document struct {
	numeric  []fact
	text     []fact
	contexts map[string]*xbrlContext
}

// capture collects the character data of one open element. depth counts
// nested start tags so the matching end tag can be found.
type capture struct {
	f     fact
	depth int
	buf   strings.Builder
}

func (c *capture) open() { c.depth++ }
func (c *capture) close() bool {
	if c.depth == 0 {
		return true
	}
	c.depth--
	return false
}

// scan walks the token stream once. Inline XBRL facts are flat in every
// filing format the registry publishes, so no tree is built.
func scan(r io.Reader) (*document, error) {
	doc := &document{contexts: map[string]*xbrlContext{}}
	z := html.NewTokenizer(r)

	var (
		num, txt *capture
		ctx      *xbrlContext
		dateTag  string
		dateBuf  strings.Builder
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return doc, nil
			}
			return nil, z.Err()

		case html.TextToken:
			t := string(z.Text())
			if num != nil {
				num.buf.WriteString(t)
			}
			if txt != nil {
				txt.buf.WriteString(t)
			}
			if dateTag != "" {
				dateBuf.WriteString(t)
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			attrs := map[string]string{}
			for hasAttr {
				var k, v []byte
				k, v, hasAttr = z.TagAttr()
				attrs[string(k)] = string(v)
			}
			selfClosing := tt == html.SelfClosingTagToken

			if !selfClosing {
				if num != nil {
					num.open()
				}
				if txt != nil {
					txt.open()
				}
			}

			switch tag {
			case "ix:nonfraction":
				if selfClosing {
					continue
				}
				num = &capture{f: factFrom(attrs)}
				num.f.scale, _ = strconv.Atoi(attrs["scale"])
				num.f.format = strings.ToLower(attrs["format"])
				num.f.sign = attrs["sign"]
			case "ix:nonnumeric":
				if selfClosing {
					continue
				}
				txt = &capture{f: factFrom(attrs)}
			case "xbrli:context":
				ctx = &xbrlContext{}
				doc.contexts[attrs["id"]] = ctx
			case "xbrli:segment", "xbrli:scenario":
				if ctx != nil {
					ctx.dimensional = true
				}
			case "xbrli:startdate", "xbrli:enddate", "xbrli:instant":
				if ctx != nil && !selfClosing {
					dateTag = tag
					dateBuf.Reset()
				}
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)

			if num != nil && num.close() {
				num.f.text = strings.TrimSpace(num.buf.String())
				doc.numeric = append(doc.numeric, num.f)
				num = nil
			}
			if txt != nil && txt.close() {
				txt.f.text = strings.Join(strings.Fields(txt.buf.String()), " ")
				doc.text = append(doc.text, txt.f)
				txt = nil
			}

			switch tag {
			case "xbrli:context":
				ctx = nil
			case dateTag:
				if ctx != nil {
					if t, ok := parseDay(dateBuf.String()); ok {
						if tag == "xbrli:startdate" {
							ctx.start = t
						} else {
							ctx.end = t
						}
					}
				}
				dateTag = ""
			}
		}
	}
}

func factFrom(attrs map[string]string) fact {
	concept := attrs["name"]
	if i := strings.LastIndexByte(concept, ':'); i >= 0 {
		concept = concept[i+1:]
	}
	return fact{concept: concept, context: attrs["contextref"]}
}

func parseDay(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= len(time.DateOnly) {
		if t, err := time.Parse(time.DateOnly, s[:len(time.DateOnly)]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
