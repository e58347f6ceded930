package entity

import (
	"errors"
	"regexp"
	"strings"
)

var ErrNotMapEmbed = errors.New("not a google maps embed url")

var (
	srcAttr = regexp.MustCompile(`src="([^"]+)"`)
	lngPart = regexp.MustCompile(`!2d(-?[\d.]+)`)
	latPart = regexp.MustCompile(`!3d(-?[\d.]+)`)
)

// MapLinks is the pair of map settings derived from one embed snippet.
// DirectURL is empty when the embed carries no coordinates.
type MapLinks struct {
	EmbedURL  string
	DirectURL string
}

// ParseMapEmbed accepts either a full <iframe> snippet or a bare embed URL.
func ParseMapEmbed(input string) (MapLinks, error) {
	embed := strings.TrimSpace(input)
	if m := srcAttr.FindStringSubmatch(input); m != nil {
		embed = m[1]
	}
	if !strings.Contains(embed, "google.com/maps/embed") {
		return MapLinks{}, ErrNotMapEmbed
	}
	links := MapLinks{EmbedURL: embed}
	lng := lngPart.FindStringSubmatch(embed)
	lat := latPart.FindStringSubmatch(embed)
	if lng != nil && lat != nil {
		links.DirectURL = "https://www.google.com/maps/search/?api=1&query=" + lat[1] + "," + lng[1]
	}
	return links, nil
}
