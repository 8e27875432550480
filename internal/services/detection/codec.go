package detection

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"kepler-vision-go/internal/models"
)

func encodeFrame(f models.Frame) map[string]any {
	return map[string]any{
		"width":  f.Width,
		"height": f.Height,
		"format": "bgr24",
		"data":   base64.StdEncoding.EncodeToString(f.Data),
	}
}

// decodeDetections reads {"detections": [{"bbox": [..], "label", "class_id", "score"}]}.
func decodeDetections(resp *structpb.Struct) ([]models.Detection, error) {
	list := resp.GetFields()["detections"].GetListValue()
	if list == nil {
		return nil, nil
	}
	out := make([]models.Detection, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		obj := v.GetStructValue()
		if obj == nil {
			return nil, fmt.Errorf("detection %d is not an object", i)
		}
		fields := obj.GetFields()
		var bbox []float32
		for _, c := range fields["bbox"].GetListValue().GetValues() {
			bbox = append(bbox, float32(c.GetNumberValue()))
		}
		out = append(out, models.Detection{
			BBox:    bbox,
			Label:   fields["label"].GetStringValue(),
			ClassID: int(fields["class_id"].GetNumberValue()),
			Score:   float32(fields["score"].GetNumberValue()),
		})
	}
	return out, nil
}

// decodeEmbeddings reads {"embeddings": [[..], ..]}.
func decodeEmbeddings(resp *structpb.Struct) ([][]float32, error) {
	list := resp.GetFields()["embeddings"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("response has no embeddings")
	}
	out := make([][]float32, len(list.GetValues()))
	for i, v := range list.GetValues() {
		row := v.GetListValue()
		if row == nil {
			return nil, fmt.Errorf("embedding %d is not a list", i)
		}
		vec := make([]float32, len(row.GetValues()))
		for j, x := range row.GetValues() {
			vec[j] = float32(x.GetNumberValue())
		}
		out[i] = vec
	}
	return out, nil
}
