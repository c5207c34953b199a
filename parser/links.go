package parser

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/brettboylen/vkcommunities/models"
)

const (
	cyrillicLetters = `а-яА-ЯёЁґҐєЄіІїЇ`
	// characters of a domain label
	labelChars = `a-zA-Z0-9_` + cyrillicLetters + `\-`
	// characters that must not directly follow a top level domain
	tldStopChars = `a-zA-Z0-9а-яА-Я\-`
	// characters of the path part after / ? or #
	pathChars = `a-zA-Z0-9` + cyrillicLetters + `.,_/\\+=;:"'~!@#$%&?<>\-`
)

// excludedDomains are links to the platform itself, with their subdomains
var excludedDomains = []string{
	"vk.com",
	"vk.me",
	"vk.cc",
	"vk.link",
	"vkontakte.ru",
}

// linkRegexp matches an optional scheme, the domain and an optional path.
// A TLD must be followed by a path, a stop character or the end of text;
// the stop character is consumed but not part of the link.
var linkRegexp = regexp.MustCompile(
	`(https://)?` +
		`((?:[` + labelChars + `]+\.)+(?i:` + tldAlternation() + `))` +
		`(?:([/?#][` + pathChars + `]*)|[^` + tldStopChars + `/?#]|$)`,
)

// tldAlternation orders longer TLDs first so a short one never wins on a prefix
func tldAlternation() string {
	tlds := make([]string, len(topLevelDomains))
	copy(tlds, topLevelDomains)
	sort.Slice(tlds, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(tlds[i]), utf8.RuneCountInString(tlds[j])
		if li != lj {
			return li > lj
		}
		return tlds[i] < tlds[j]
	})
	for i, tld := range tlds {
		tlds[i] = regexp.QuoteMeta(tld)
	}
	return strings.Join(tlds, "|")
}

// FindLinks returns the links found in text as they are written there
func FindLinks(text string) []string {
	var links []string

	for pos := 0; pos < len(text); {
		m := linkRegexp.FindStringSubmatchIndex(text[pos:])
		if m == nil {
			break
		}
		start := pos + m[0]

		// a link cannot continue a word, a domain or an email address
		if prev, _ := utf8.DecodeLastRuneInString(text[:start]); start > 0 && !canPrecedeLink(prev) {
			_, size := utf8.DecodeRuneInString(text[start:])
			pos = start + size
			continue
		}

		domain := text[pos+m[4] : pos+m[5]]
		end := pos + m[5]
		if m[6] >= 0 {
			end = pos + m[7]
		}
		if !isExcludedDomain(domain) {
			links = append(links, text[start:end])
		}

		pos += m[1]
	}

	return links
}

// UniqueLinks returns the distinct links of all content blocks, each with
// an explicit scheme
func UniqueLinks(content []models.ContentBlock) []string {
	seen := make(map[string]struct{})
	var links []string

	for _, block := range content {
		for _, link := range FindLinks(block.Text) {
			if !strings.HasPrefix(link, "https://") {
				link = "http://" + link
			}
			if _, ok := seen[link]; ok {
				continue
			}
			seen[link] = struct{}{}
			links = append(links, link)
		}
	}

	return links
}

func canPrecedeLink(r rune) bool {
	if r == '@' || r == '.' || r == '_' || r == '-' {
		return false
	}
	if r < utf8.RuneSelf {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}
	return !strings.ContainsRune(cyrillicAlphabet, r)
}

const cyrillicAlphabet = "абвгдеёжзийклмнопрстуфхцчшщъыьэюяАБВГДЕЁЖЗИЙКЛМНОПРСТУФХЦЧШЩЪЫЬЭЮЯґҐєЄіІїЇ"

func isExcludedDomain(domain string) bool {
	domain = strings.ToLower(domain)
	for _, excluded := range excludedDomains {
		if domain == excluded || strings.HasSuffix(domain, "."+excluded) {
			return true
		}
	}
	return false
}
