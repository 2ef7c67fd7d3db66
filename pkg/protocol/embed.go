package protocol

import (
	"strings"
)

// Colour names the plugin may use for an embed.
type Colour string

const (
	ColourNone   Colour = ""
	ColourBlack  Colour = "black"
	ColourWhite  Colour = "white"
	ColourGray   Colour = "gray"
	ColourRed    Colour = "red"
	ColourGreen  Colour = "green"
	ColourBlue   Colour = "blue"
	ColourYellow Colour = "yellow"
	ColourCyan   Colour = "cyan"
	ColourOrange Colour = "orange"
)

var colourValues = map[Colour]int{
	"black":              0x000000,
	"white":              0xFFFFFF,
	"gray":               0x808080,
	"dark_gray":          0x666666,
	"light_gray":         0xA0A0A0,
	"very_dark_gray":     0x333333,
	"blurple":            0x7289DA,
	"grayple":            0x99AAB5,
	"dark_but_not_black": 0x2C2F33,
	"not_quite_black":    0x23272A,
	"red":                0xFF0000,
	"dark_red":           0x7F0000,
	"green":              0x00FF00,
	"dark_green":         0x007F00,
	"blue":               0x0000FF,
	"dark_blue":          0x00007F,
	"yellow":             0xFFFF00,
	"cyan":               0x00FFFF,
	"magenta":            0xFF00FF,
	"teal":               0x008080,
	"aquamarine":         0x00FFBF,
	"gold":               0xFFD700,
	"goldenrod":          0xDAA520,
	"azure":              0x007FFF,
	"rose":               0xFF007F,
	"spring_green":       0x00FF7F,
	"chartreuse":         0x7FFF00,
	"orange":             0xFFA500,
	"purple":             0x800080,
	"violet":             0xEE82EE,
	"brown":              0xA52A2A,
	"hot_pink":           0xFF69B4,
	"lilac":              0xC8A2C8,
	"cornflower_blue":    0x6495ED,
	"midnight_blue":      0x191970,
	"wheat":              0xF5DEB3,
	"indian_red":         0xCD5C5C,
	"turquoise":          0x30D5C8,
	"sap_green":          0x507D2A,
	"phthalo_blue":       0x000F89,
	"phthalo_green":      0x123524,
	"sienna":             0x882D17,
}

// Value is the RGB value of c. Unknown names map to 0, Discord's "no colour".
func (c Colour) Value() int {
	return colourValues[Colour(strings.ToLower(strings.TrimSpace(string(c))))]
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Colour      Colour       `json:"colour,omitempty"`
	Timestamp   int64        `json:"timestamp,omitempty"` // unix seconds
	ImageURL    string       `json:"image_url,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Thumbnail   *EmbedImage  `json:"thumbnail,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type EmbedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// PlainText renders the embed for channels that only get text.
func (e Embed) PlainText() string {
	var lines []string
	if e.Author != nil && e.Author.Name != "" {
		lines = append(lines, e.Author.Name)
	}
	if e.Title != "" {
		lines = append(lines, "**"+e.Title+"**")
	}
	if e.Description != "" {
		lines = append(lines, e.Description)
	}
	for _, f := range e.Fields {
		lines = append(lines, "**"+f.Name+":** "+f.Value)
	}
	if e.Footer != nil && e.Footer.Text != "" {
		lines = append(lines, "_"+e.Footer.Text+"_")
	}
	return strings.Join(lines, "\n")
}
