package autolang

// SelectedAudioStream returns the audio stream currently flagged selected on a
// part, or nil when none is.
func SelectedAudioStream(part *MediaPart) *AudioStream {
	for i := range part.AudioStreams {
		if part.AudioStreams[i].Selected {
			return &part.AudioStreams[i]
		}
	}
	return nil
}

// SelectedSubtitleStream returns the subtitle stream currently flagged
// selected on a part, or nil when subtitles are off.
func SelectedSubtitleStream(part *MediaPart) *SubtitleStream {
	for i := range part.SubtitleStreams {
		if part.SubtitleStreams[i].Selected {
			return &part.SubtitleStreams[i]
		}
	}
	return nil
}

// MatchAudioStream picks the candidate that best matches the reference audio
// selection. Candidates in another language never match. Ties keep the first
// candidate encountered.
func MatchAudioStream(reference *AudioStream, candidates []AudioStream) *AudioStream {
	if reference == nil {
		return nil
	}

	var filtered []*AudioStream
	for i := range candidates {
		if candidates[i].LanguageCode == reference.LanguageCode {
			filtered = append(filtered, &candidates[i])
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}

	best := filtered[0]
	bestScore := -1
	for _, candidate := range filtered {
		score := 0
		if reference.Codec == candidate.Codec {
			score += 3
		}
		if reference.AudioChannelLayout == candidate.AudioChannelLayout {
			score += 3
		}
		if candidate.Channels >= reference.Channels {
			score++
		}
		if reference.Title != "" && candidate.Title != "" && reference.Title == candidate.Title {
			score += 5
		}
		if score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best
}

// MatchSubtitleStream picks the candidate that best matches the reference
// subtitle selection. A nil reference means subtitles are off and propagates
// as nil. Ties keep the first candidate encountered.
func MatchSubtitleStream(reference *SubtitleStream, candidates []SubtitleStream) *SubtitleStream {
	if reference == nil {
		return nil
	}

	var filtered []*SubtitleStream
	for i := range candidates {
		if candidates[i].LanguageCode == reference.LanguageCode {
			filtered = append(filtered, &candidates[i])
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}

	best := filtered[0]
	bestScore := -1
	for _, candidate := range filtered {
		score := 0
		if reference.Forced == candidate.Forced {
			score += 3
		}
		if reference.Codec != "" && candidate.Codec != "" && reference.Codec == candidate.Codec {
			score++
		}
		if reference.Title != "" && candidate.Title != "" && reference.Title == candidate.Title {
			score += 5
		}
		if score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best
}
