package huggingface

import (
	"encoding/json"
	"fmt"
)

const (
	maxNewTokens      = 500
	probeMaxNewTokens = 10
	temperature       = 0.3
	topP              = 0.9
)

type imageText struct {
	Image string `json:"image"`
	Text  string `json:"text"`
}

type imageQuestion struct {
	Question string `json:"question"`
	Image    string `json:"image"`
}

type samplingParams struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
	DoSample     bool    `json:"do_sample"`
}

type basicParams struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
}

type probeParams struct {
	MaxNewTokens int `json:"max_new_tokens"`
}

// format 1: image and text nested under inputs
type nestedPayload struct {
	Inputs     imageText `json:"inputs"`
	Parameters any       `json:"parameters"`
}

// format 2: prompt as inputs, image as a sibling field
type flatPayload struct {
	Inputs     string      `json:"inputs"`
	Image      string      `json:"image"`
	Parameters basicParams `json:"parameters"`
}

// format 3: visual question answering pair
type questionPayload struct {
	Inputs imageQuestion `json:"inputs"`
}

// diagnosticPayloads returns the request bodies in the order they are tried.
func diagnosticPayloads(imageB64, text string) ([][]byte, error) {
	shapes := []any{
		nestedPayload{
			Inputs: imageText{Image: imageB64, Text: text},
			Parameters: samplingParams{
				MaxNewTokens: maxNewTokens,
				Temperature:  temperature,
				TopP:         topP,
				DoSample:     true,
			},
		},
		flatPayload{
			Inputs: text,
			Image:  imageB64,
			Parameters: basicParams{
				MaxNewTokens: maxNewTokens,
				Temperature:  temperature,
			},
		},
		questionPayload{
			Inputs: imageQuestion{Question: text, Image: imageB64},
		},
	}

	out := make([][]byte, 0, len(shapes))
	for i, s := range shapes {
		b, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("marshal format %d: %w", i+1, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func probePayload(imageB64, text string) ([]byte, error) {
	return json.Marshal(nestedPayload{
		Inputs:     imageText{Image: imageB64, Text: text},
		Parameters: probeParams{MaxNewTokens: probeMaxNewTokens},
	})
}
