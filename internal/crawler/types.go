package crawler

// LinkKind is the category a normalised link falls into.
type LinkKind int

const (
	KindPage LinkKind = iota
	KindMedia
	KindOutbound
	KindIgnored
)

func (k LinkKind) String() string {
	switch k {
	case KindPage:
		return "page"
	case KindMedia:
		return "media"
	case KindOutbound:
		return "outbound"
	case KindIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// PageLinks is what one page fetch yields.
type PageLinks struct {
	// BaseURL is the URL relative hrefs resolve against: the final URL after
	// redirects, or the document's <base href> when it has one.
	BaseURL string
	// Hrefs are the raw anchor href values in document order.
	Hrefs []string
}

// HostUnreachablePhrase is reported for probes that never got an HTTP response.
const HostUnreachablePhrase = "Host does not exist."

// Status is the outcome of a reachability probe.
type Status struct {
	Code   int    `json:"code"`
	Phrase string `json:"phrase"`
}

// OK reports whether the probe returned exactly 200.
func (s Status) OK() bool {
	return s.Code == 200
}

// unreachable is the synthetic status for DNS, connect and timeout failures.
func unreachable() Status {
	return Status{Code: 404, Phrase: HostUnreachablePhrase}
}
