package iface

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// DecodeImage turns encoded bytes (jpeg, png, ...) into an image. With
// keepAlpha the fourth channel of a png survives the decode.
func DecodeImage(data []byte, keepAlpha bool) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	flag := gocv.IMReadColor
	if keepAlpha {
		flag = gocv.IMReadUnchanged
	}
	mat, err := gocv.IMDecode(data, flag)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	defer mat.Close()
	if mat.Empty() {
		// IMDecode signals an unsupported format with an empty Mat
		return nil, fmt.Errorf("%w: decoded image is empty or unsupported format", ErrInvalidImage)
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nothing to encode")
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// StructFrom converts any json-taggable value into a protobuf Struct.
func StructFrom(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}

// StructInto decodes a protobuf Struct into v using its json tags.
func StructInto(s *structpb.Struct, v any) error {
	if s == nil {
		return errors.New("nil struct")
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
