// Package twiml renders the small subset of telephony response XML the
// bridge needs: speaking a prompt, pausing, hanging up, and connecting the
// call to a media-stream WebSocket.
package twiml

import (
	"encoding/xml"
	"fmt"
)

type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type Say struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type Connect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  Stream   `xml:"Stream"`
}

type Stream struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
}

// Render serializes the response with the XML declaration the telephony
// provider expects.
func (r Response) Render() ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Reject is the response for callers who are not enrolled.
func Reject(message string) Response {
	return Response{Verbs: []any{
		Say{Text: message},
		Hangup{},
	}}
}

// ConnectStream greets the caller and hands the call to the media-stream
// endpoint at streamURL.
func ConnectStream(greeting, streamURL string) Response {
	verbs := []any{}
	if greeting != "" {
		verbs = append(verbs, Say{Text: greeting}, Pause{Length: 1})
	}
	verbs = append(verbs, Connect{Stream: Stream{URL: streamURL}})
	return Response{Verbs: verbs}
}
