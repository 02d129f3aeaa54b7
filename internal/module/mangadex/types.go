package mangadex

import (
	"strings"

	"github.com/italolelis/manga_downloader/internal/module"
)

// envelope is shared by every MangaDex response, errors included.
type envelope struct {
	Result string `json:"result"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *envelope) result() *envelope { return e }

func (e *envelope) message() string {
	details := make([]string, 0, len(e.Errors))

	for _, err := range e.Errors {
		switch {
		case err.Detail != "":
			details = append(details, err.Detail)
		case err.Title != "":
			details = append(details, err.Title)
		}
	}

	return strings.Join(details, ",")
}

type apiResult interface {
	result() *envelope
}

type relationship struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		Name     string `json:"name"`
		FileName string `json:"fileName"`
	} `json:"attributes"`
}

type mangaResponse struct {
	envelope

	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Title       map[string]string `json:"title"`
			Description map[string]string `json:"description"`
			Tags        []struct {
				Attributes struct {
					Name map[string]string `json:"name"`
				} `json:"attributes"`
			} `json:"tags"`
			ContentRating          string `json:"contentRating"`
			PublicationDemographic string `json:"publicationDemographic"`
		} `json:"attributes"`
		Relationships []relationship `json:"relationships"`
	} `json:"data"`
}

type feedResponse struct {
	envelope

	Data   []chapterData `json:"data"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
	Total  int           `json:"total"`
}

type chapterData struct {
	ID         string `json:"id"`
	Attributes struct {
		Title              string `json:"title"`
		Volume             string `json:"volume"`
		Chapter            string `json:"chapter"`
		TranslatedLanguage string `json:"translatedLanguage"`
	} `json:"attributes"`
	Relationships []relationship `json:"relationships"`
}

func (c chapterData) toChapterInfo() module.ChapterInfo {
	var groups []string

	for _, rel := range c.Relationships {
		if rel.Type == "scanlation_group" && rel.Attributes.Name != "" {
			groups = append(groups, rel.Attributes.Name)
		}
	}

	return module.ChapterInfo{
		ID:        c.ID,
		Title:     c.Attributes.Title,
		Chapter:   c.Attributes.Chapter,
		Volume:    c.Attributes.Volume,
		Scanlator: strings.Join(groups, ", "),
		Language:  c.Attributes.TranslatedLanguage,
	}
}

type atHomeResponse struct {
	envelope

	BaseURL string `json:"baseUrl"`
	Chapter struct {
		Hash string   `json:"hash"`
		Data []string `json:"data"`
	} `json:"chapter"`
}
