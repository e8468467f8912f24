package routing

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Destination is what the requesting client intends to do with the response.
type Destination string

const (
	DestDocument Destination = "document"
	DestScript   Destination = "script"
	DestStyle    Destination = "style"
	DestImage    Destination = "image"
	DestFont     Destination = "font"
	DestManifest Destination = "manifest"
	DestOther    Destination = "other"
)

// Request is the part of an HTTP request that routes match on.
type Request struct {
	Method      string
	URL         *url.URL
	Destination Destination
}

// FromHTTP builds a routing request from an incoming HTTP request.
func FromHTTP(r *http.Request) Request {
	return Request{
		Method:      r.Method,
		URL:         r.URL,
		Destination: DestinationOf(r),
	}
}

var extensionDestinations = map[string]Destination{
	".js":          DestScript,
	".mjs":         DestScript,
	".css":         DestStyle,
	".png":         DestImage,
	".jpg":         DestImage,
	".jpeg":        DestImage,
	".gif":         DestImage,
	".svg":         DestImage,
	".webp":        DestImage,
	".avif":        DestImage,
	".ico":         DestImage,
	".woff":        DestFont,
	".woff2":       DestFont,
	".ttf":         DestFont,
	".otf":         DestFont,
	".eot":         DestFont,
	".webmanifest": DestManifest,
}

// DestinationOf classifies a request by its Sec-Fetch-Dest header.
// Without the header, the destination is inferred from the path extension,
// and a request accepting text/html is a document.
func DestinationOf(r *http.Request) Destination {
	if dest := r.Header.Get("Sec-Fetch-Dest"); dest != "" {
		switch d := Destination(strings.ToLower(dest)); d {
		case DestDocument, DestScript, DestStyle, DestImage, DestFont, DestManifest:
			return d
		}
		return DestOther
	}
	if dest, ok := extensionDestinations[strings.ToLower(path.Ext(r.URL.Path))]; ok {
		return dest
	}
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		return DestDocument
	}
	return DestOther
}
