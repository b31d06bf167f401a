package payload

// DefaultImageFields are the mapping keys known to hold a profile or media
// image URL across the scrapers in use.
var DefaultImageFields = []string{
	"img",
	"profilePic",
	"avatar",
	"displayUrl",
	"profilePicUrl",
	"profilePicUrlHD",
	"profile_pic_url",
	"profile_pic_url_hd",
	"profile_image_url_https",
	"media_url_https",
	"profilePicture",
	"pictureUrl",
}

// Extractor walks payload trees collecting image URLs.
type Extractor struct {
	fields []string
}

// NewExtractor returns an Extractor matching DefaultImageFields followed by
// extra. Blank and repeated names are dropped.
func NewExtractor(extra ...string) *Extractor {
	seen := make(map[string]bool)
	var fields []string
	for _, f := range append(append([]string{}, DefaultImageFields...), extra...) {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		fields = append(fields, f)
	}
	return &Extractor{fields: fields}
}

// Fields returns the synonym table in match order.
func (e *Extractor) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Extract returns every non-empty string found under a synonym key anywhere
// in root, depth first. At each mapping the synonyms are checked in table
// order, then every field is descended into in document order. Duplicates are
// kept.
func (e *Extractor) Extract(root *Node) []string {
	var out []string
	e.walk(root, &out)
	return out
}

func (e *Extractor) walk(n *Node, out *[]string) {
	if n == nil {
		return
	}
	switch n.Kind {
	case Seq:
		for _, item := range n.Items {
			e.walk(item, out)
		}
	case Map:
		for _, f := range e.fields {
			if v := n.Fields[f]; v != nil && v.Kind == String && v.Scalar != "" {
				*out = append(*out, v.Scalar)
			}
		}
		for _, k := range n.Keys {
			if child := n.Fields[k]; child.Kind == Map || child.Kind == Seq {
				e.walk(child, out)
			}
		}
	}
}
