// Package plex wraps the Plex Media Server HTTP API and its WebSocket
// notification feed behind the interfaces the autolang engine consumes.
package plex

import (
	"github.com/RemiRigal/Plex-Auto-Languages/internal/autolang"
)

const (
	streamTypeAudio    = 2
	streamTypeSubtitle = 3

	mediaTypeEpisode = "episode"
	sectionTypeShow  = "show"
)

type metadataResponse struct {
	MediaContainer metadataContainer `json:"MediaContainer"`
}

type metadataContainer struct {
	Size              int        `json:"size"`
	MachineIdentifier string     `json:"machineIdentifier"`
	Metadata          []metadata `json:"Metadata"`
}

type metadata struct {
	RatingKey        string  `json:"ratingKey"`
	Key              string  `json:"key"`
	Type             string  `json:"type"`
	Title            string  `json:"title"`
	GrandparentTitle string  `json:"grandparentTitle,omitempty"`
	GrandparentKey   string  `json:"grandparentKey,omitempty"`
	ParentKey        string  `json:"parentKey,omitempty"`
	ParentIndex      int     `json:"parentIndex,omitempty"`
	Index            int     `json:"index,omitempty"`
	AddedAt          int64   `json:"addedAt"`
	UpdatedAt        int64   `json:"updatedAt"`
	ViewCount        int     `json:"viewCount,omitempty"`
	LastViewedAt     int64   `json:"lastViewedAt,omitempty"`
	AccountID        int64   `json:"accountID,omitempty"`
	ViewedAt         int64   `json:"viewedAt,omitempty"`
	Label            []tag   `json:"Label,omitempty"`
	Media            []media `json:"Media,omitempty"`
}

type tag struct {
	Tag string `json:"tag"`
}

type media struct {
	ID   int    `json:"id"`
	Part []part `json:"Part"`
}

type part struct {
	ID     int      `json:"id"`
	Key    string   `json:"key"`
	File   string   `json:"file"`
	Stream []stream `json:"Stream,omitempty"`
}

type stream struct {
	ID                 int    `json:"id"`
	StreamType         int    `json:"streamType"`
	Selected           bool   `json:"selected"`
	LanguageCode       string `json:"languageCode,omitempty"`
	Codec              string `json:"codec,omitempty"`
	Channels           int    `json:"channels,omitempty"`
	AudioChannelLayout string `json:"audioChannelLayout,omitempty"`
	Title              string `json:"title,omitempty"`
	DisplayTitle       string `json:"displayTitle,omitempty"`
	Forced             bool   `json:"forced,omitempty"`
}

type sectionsResponse struct {
	MediaContainer struct {
		Directory []section `json:"Directory"`
	} `json:"MediaContainer"`
}

type section struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

type accountsResponse struct {
	MediaContainer struct {
		Account []account `json:"Account"`
	} `json:"MediaContainer"`
}

type account struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type sessionsResponse struct {
	MediaContainer struct {
		Metadata []session `json:"Metadata"`
	} `json:"MediaContainer"`
}

type session struct {
	User struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"User"`
	Player struct {
		MachineIdentifier string `json:"machineIdentifier"`
	} `json:"Player"`
}

func convertEpisode(meta *metadata) *autolang.Episode {
	ep := &autolang.Episode{
		RatingKey:     meta.RatingKey,
		Key:           meta.Key,
		Title:         meta.Title,
		ShowTitle:     meta.GrandparentTitle,
		ShowKey:       meta.GrandparentKey,
		SeasonKey:     meta.ParentKey,
		SeasonNumber:  meta.ParentIndex,
		EpisodeNumber: meta.Index,
		AddedAt:       meta.AddedAt,
		UpdatedAt:     meta.UpdatedAt,
		Watched:       meta.ViewCount > 0,
	}

	for _, m := range meta.Media {
		for _, p := range m.Part {
			mediaPart := autolang.MediaPart{ID: p.ID, Key: p.Key}
			for _, s := range p.Stream {
				switch s.StreamType {
				case streamTypeAudio:
					mediaPart.AudioStreams = append(mediaPart.AudioStreams, autolang.AudioStream{
						ID:                 s.ID,
						LanguageCode:       s.LanguageCode,
						Codec:              s.Codec,
						Channels:           s.Channels,
						AudioChannelLayout: s.AudioChannelLayout,
						Title:              s.Title,
						DisplayTitle:       s.DisplayTitle,
						Selected:           s.Selected,
					})
				case streamTypeSubtitle:
					mediaPart.SubtitleStreams = append(mediaPart.SubtitleStreams, autolang.SubtitleStream{
						ID:           s.ID,
						LanguageCode: s.LanguageCode,
						Codec:        s.Codec,
						Title:        s.Title,
						DisplayTitle: s.DisplayTitle,
						Forced:       s.Forced,
						Selected:     s.Selected,
					})
				}
			}
			ep.Parts = append(ep.Parts, mediaPart)
		}
	}
	return ep
}
