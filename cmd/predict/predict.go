package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/yololab/pkg/ortnn"
	"github.com/cyclopcam/yololab/server/inference"
)

func check(err error) {
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("predict", "Run YOLO detection on images, using the weights of a PyTorch checkpoint")
	weights := parser.String("w", "weights", &argparse.Options{Help: "PyTorch checkpoint (.pt)", Required: true})
	model := parser.String("m", "model", &argparse.Options{Help: "Base model, without extension, eg models/yolov9-s", Required: true})
	outDir := parser.String("o", "output", &argparse.Options{Help: "Output directory for annotated images and results.json", Required: true})
	images := parser.StringList("i", "image", &argparse.Options{Help: "Input image (may be repeated)", Required: true})
	imgSize := parser.Int("s", "size", &argparse.Options{Help: "Network input size", Default: inference.DefaultImgSize})
	minConfidence := parser.Float("", "conf", &argparse.Options{Help: "Minimum confidence", Default: 0.25})
	minIoU := parser.Float("", "iou", &argparse.Options{Help: "NMS IoU threshold", Default: 0.45})
	maxBoxes := parser.Int("", "maxbox", &argparse.Options{Help: "Maximum detections per image", Default: 300})
	classes := parser.String("c", "classes", &argparse.Options{Help: "Comma-separated class names that override the model's names", Default: ""})
	device := parser.String("d", "device", &argparse.Options{Help: "Inference device (cuda, coreml, cpu). Default is the fastest available.", Default: ""})
	runtimeLib := parser.String("", "ort", &argparse.Options{Help: "Path to the onnxruntime shared library", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)
	defer logger.Close()

	src := inference.ModelSource{
		RuntimeLibrary: *runtimeLib,
		ModelDir:       filepath.Dir(*model),
		ModelName:      filepath.Base(*model),
	}
	if *device != "" {
		src.Devices = []ortnn.Device{ortnn.Device(strings.ToLower(*device))}
	}
	engine := inference.NewEngine(logger, inference.NewModelLoader(logger, src))
	defer engine.Close()

	checkpoint, err := os.ReadFile(*weights)
	check(err)

	payloads := []inference.ImagePayload{}
	for i, fn := range *images {
		data, err := os.ReadFile(fn)
		check(err)
		payloads = append(payloads, inference.ImagePayload{
			ID:   fmt.Sprintf("%v", i),
			Name: filepath.Base(fn),
			Data: data,
		})
	}

	var classNames []string
	if *classes != "" {
		classNames = strings.Split(*classes, ",")
	}
	settings := inference.NewSettings(*imgSize, *minConfidence, *minIoU, *maxBoxes, inference.DefaultNumWorkers, classNames)

	result, err := engine.Run(checkpoint, settings, payloads, filepath.Base(*weights))
	check(err)

	check(os.MkdirAll(*outDir, 0755))
	for i := range result.Results {
		r := &result.Results[i]
		jpegName := strings.TrimSuffix(r.Filename, filepath.Ext(r.Filename)) + "_pred.jpg"
		check(writeDataURI(filepath.Join(*outDir, jpegName), r.ResultImage))
		r.ResultImage = jpegName
		logger.Infof("%v: %v detections in %.1f ms", r.Filename, r.NumDetections, r.DurationMS)
	}

	out, err := os.Create(filepath.Join(*outDir, "results.json"))
	check(err)
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	check(encoder.Encode(result))
	check(out.Close())
	logger.Infof("Ran %v images on %v in %.1f ms", len(result.Results), engine.DeviceLabel(), result.TotalTimeMS)
}

func writeDataURI(filename, uri string) error {
	_, encoded, ok := strings.Cut(uri, ",")
	if !ok {
		return fmt.Errorf("Result image is not a data URI")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, raw, 0644)
}
