package utils

import (
	"net/http"
	"net/url"

	"github.com/apex/log"
)

// RequestFields collects the loggable parts of a request
func RequestFields(req *http.Request) log.Fields {
	fields := log.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
		"host":   req.Host,
	}
	for key, values := range req.Header {
		for _, value := range values {
			fields["header."+key] = value
		}
	}
	return fields
}

// PrintRequest logs a request at debug level with a title/label
func PrintRequest(req *http.Request, title string) {
	log.WithFields(RequestFields(req)).Debug(title)
}

// PrintRequestWithMetadata logs a request with the scope it is being resolved against
func PrintRequestWithMetadata(req *http.Request, title string, scope *url.URL, clientID string) {
	fields := RequestFields(req)
	if scope != nil {
		fields["scope"] = scope.String()
	}
	if clientID != "" {
		fields["client"] = clientID
	}
	log.WithFields(fields).Debug(title)
}
