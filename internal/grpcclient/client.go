package grpcclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/imageprocessor"
	"github.com/example/facegate/internal/logging"
)

// DetectMethod is the full gRPC method name of the extraction call. Request and
// response are google.protobuf.Struct:
//
//	request:  {image: <base64>, model: <string>, det_size: <number>}
//	response: {faces: [{embedding: [<number>...], bbox: [x1, y1, x2, y2], score: <number>}]}
const DetectMethod = "/facegate.v1.FeatureExtractor/Detect"

// DialFeatureExtractor returns a ready-to-use gRPC client for the extraction service.
func DialFeatureExtractor(ctx context.Context, addr string, opts imageprocessor.Options, logger *zap.Logger, extra ...grpc.DialOption) (imageprocessor.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, extra...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_feature_extractor", "", err)
		logger.Error("failed to dial feature extractor", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return &grpcExtractor{conn: conn, opts: opts, logger: logger.Named("grpc_extractor")}, conn, nil
}

type grpcExtractor struct {
	conn   grpc.ClientConnInterface
	opts   imageprocessor.Options
	logger *zap.Logger
}

func (g *grpcExtractor) Detect(ctx context.Context, image []byte) ([]faceid.Face, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"image":    base64.StdEncoding.EncodeToString(image),
		"model":    g.opts.Model,
		"det_size": g.opts.DetSize,
	})
	if err != nil {
		return nil, err
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, DetectMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect", "", err)
		g.logger.Error("feature extractor call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return parseFaces(resp)
}

func parseFaces(resp *structpb.Struct) ([]faceid.Face, error) {
	list := resp.GetFields()["faces"].GetListValue().GetValues()
	faces := make([]faceid.Face, 0, len(list))
	for i, item := range list {
		fields := item.GetStructValue().GetFields()

		rawEmbedding := fields["embedding"].GetListValue().GetValues()
		embedding := make(faceid.Embedding, len(rawEmbedding))
		for j, v := range rawEmbedding {
			embedding[j] = float32(v.GetNumberValue())
		}

		rawBox := fields["bbox"].GetListValue().GetValues()
		if len(rawBox) != 4 {
			return nil, fmt.Errorf("face %d: bbox has %d values, want 4", i, len(rawBox))
		}
		faces = append(faces, faceid.Face{
			Embedding: embedding,
			BBox: faceid.BBox{
				X1: rawBox[0].GetNumberValue(),
				Y1: rawBox[1].GetNumberValue(),
				X2: rawBox[2].GetNumberValue(),
				Y2: rawBox[3].GetNumberValue(),
			},
			Score: fields["score"].GetNumberValue(),
		})
	}
	return faces, nil
}
