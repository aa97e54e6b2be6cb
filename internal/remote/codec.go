// Package remote exposes a comparator over gRPC and calls one. Messages are
// protobuf Structs so no generated code is needed on either side.
package remote

import (
	"bytes"
	"encoding/base64"
	"image/png"

	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/match"
)

const (
	serviceName   = "pagestitch.Comparator"
	compareMethod = "/" + serviceName + "/Compare"
)

func encodeRequest(req match.CompareRequest) (*structpb.Struct, error) {
	var buf bytes.Buffer
	if req.Screenshot != nil {
		if err := png.Encode(&buf, req.Screenshot); err != nil {
			return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "encode screenshot")
		}
	}
	regions := make([]any, 0, len(req.Settings.IgnoreRegions))
	for _, r := range req.Settings.IgnoreRegions {
		regions = append(regions, map[string]any{
			"left": r.Left, "top": r.Top, "width": r.Width, "height": r.Height,
		})
	}
	triggers := make([]any, 0, len(req.Triggers))
	for _, t := range req.Triggers {
		triggers = append(triggers, map[string]any{
			"kind": string(t.Kind), "action": t.Action, "text": t.Text,
			"x": t.Location.X, "y": t.Location.Y,
		})
	}
	s, err := structpb.NewStruct(map[string]any{
		"tag":             req.Tag,
		"title":           req.Title,
		"ignore_mismatch": req.IgnoreMismatch,
		"match_level":     req.Settings.MatchLevel,
		"png":             base64.StdEncoding.EncodeToString(buf.Bytes()),
		"ignore_regions":  regions,
		"triggers":        triggers,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "build compare request")
	}
	return s, nil
}

func decodeRequest(s *structpb.Struct) (match.CompareRequest, error) {
	f := s.GetFields()
	req := match.CompareRequest{
		Tag:            f["tag"].GetStringValue(),
		Title:          f["title"].GetStringValue(),
		IgnoreMismatch: f["ignore_mismatch"].GetBoolValue(),
		Settings:       match.ImageSettings{MatchLevel: f["match_level"].GetStringValue()},
	}

	raw, err := base64.StdEncoding.DecodeString(f["png"].GetStringValue())
	if err != nil {
		return req, apperrors.Wrap(err, apperrors.InvalidArgument, "decode screenshot")
	}
	if len(raw) > 0 {
		img, err := png.Decode(bytes.NewReader(raw))
		if err != nil {
			return req, apperrors.Wrap(err, apperrors.InvalidArgument, "decode screenshot")
		}
		req.Screenshot = img
	}

	for _, v := range f["ignore_regions"].GetListValue().GetValues() {
		rf := v.GetStructValue().GetFields()
		req.Settings.IgnoreRegions = append(req.Settings.IgnoreRegions, geometry.Rect[geometry.Context]{
			Left:   int(rf["left"].GetNumberValue()),
			Top:    int(rf["top"].GetNumberValue()),
			Width:  int(rf["width"].GetNumberValue()),
			Height: int(rf["height"].GetNumberValue()),
		})
	}
	for _, v := range f["triggers"].GetListValue().GetValues() {
		tf := v.GetStructValue().GetFields()
		req.Triggers = append(req.Triggers, match.Trigger{
			Kind:     match.TriggerKind(tf["kind"].GetStringValue()),
			Action:   tf["action"].GetStringValue(),
			Text:     tf["text"].GetStringValue(),
			Location: geometry.Location{X: int(tf["x"].GetNumberValue()), Y: int(tf["y"].GetNumberValue())},
		})
	}
	return req, nil
}

func encodeResult(r match.Result) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"as_expected":  r.AsExpected,
		"difference":   r.Difference,
		"message":      r.Message,
		"new_baseline": r.NewBaseline,
	})
}

func decodeResult(s *structpb.Struct) match.Result {
	f := s.GetFields()
	return match.Result{
		AsExpected:  f["as_expected"].GetBoolValue(),
		Difference:  f["difference"].GetNumberValue(),
		Message:     f["message"].GetStringValue(),
		NewBaseline: f["new_baseline"].GetBoolValue(),
	}
}
