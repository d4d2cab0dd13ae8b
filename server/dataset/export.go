// Package dataset converts browser annotations into a YOLO training dataset archive
package dataset

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/cyclopcam/yololab/pkg/nn"
	"gopkg.in/yaml.v3"
)

// Archive is a finished dataset zip
type Archive struct {
	Folder   string // Top level directory inside the zip, eg "train"
	Filename string // eg "train.zip"
	Data     []byte
	Images   int
	Labels   int // Number of label lines, over all images
}

// Export builds a zip with <folder>/images/*, <folder>/labels/*.txt, and for the
// "train" dataset, <folder>/dataset.yaml.
//
// Boxes that reference unknown classes, have unparseable coordinates, or have no area are
// dropped silently. An image whose data cannot be decoded fails the whole export.
func Export(datasetName string, classes []ClassDefinition, images []AnnotatedImage) (*Archive, error) {
	if len(classes) == 0 {
		return nil, validationErrorf("Add at least one class before exporting")
	}
	if len(images) == 0 {
		return nil, validationErrorf("Add at least one image before exporting")
	}

	// If two classes share an id, the later one wins
	classIndex := map[string]int{}
	for i, c := range classes {
		classIndex[classKey(c.ID)] = i
	}

	folder := strings.TrimSpace(datasetName)
	if folder == "" {
		folder = "dataset"
	}

	archive := &Archive{
		Folder:   folder,
		Filename: folder + ".zip",
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := newNameSet()

	for _, img := range images {
		header, encoded, ok := strings.Cut(img.Src, ",")
		if img.Src == "" || !ok {
			return nil, validationErrorf("Invalid image data: %v", img.Name)
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, validationErrorf("Failed to decode image data: %v", img.Name)
		}
		fallbackExt := ".png"
		if strings.Contains(header, "jpeg") || strings.Contains(header, "jpg") {
			fallbackExt = ".jpg"
		}
		filename := names.unique(img.Name, fallbackExt)
		if err := writeZipFile(zw, folder+"/images/"+filename, raw); err != nil {
			return nil, err
		}

		lines := []string{}
		for _, box := range img.Boxes {
			if label, ok := convertBox(box, classIndex); ok {
				lines = append(lines, label.String())
			}
		}
		stem, _ := splitName(filename)
		if err := writeZipFile(zw, folder+"/labels/"+stem+".txt", []byte(strings.Join(lines, "\n"))); err != nil {
			return nil, err
		}
		archive.Images++
		archive.Labels += len(lines)
	}

	if strings.ToLower(datasetName) == "train" {
		yml, err := datasetYAML(normalizeClassNames(classes))
		if err != nil {
			return nil, err
		}
		if err := writeZipFile(zw, folder+"/dataset.yaml", yml); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	archive.Data = buf.Bytes()
	return archive, nil
}

// convertBox returns false if the box must be skipped
func convertBox(box BoundingBoxPercent, classIndex map[string]int) (nn.YOLOLabel, bool) {
	class, ok := classIndex[classKey(box.ClassID)]
	if !ok {
		return nn.YOLOLabel{}, false
	}
	w, okW := percentValue(box.W)
	h, okH := percentValue(box.H)
	x, okX := percentValue(box.X)
	y, okY := percentValue(box.Y)
	if !okW || !okH || !okX || !okY {
		return nn.YOLOLabel{}, false
	}
	if w <= 0 || h <= 0 {
		return nn.YOLOLabel{}, false
	}
	return nn.LabelFromPercent(class, x, y, w, h), true
}

func writeZipFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// normalizeClassNames returns the class labels, with class_<i> for blank ones
func normalizeClassNames(classes []ClassDefinition) []string {
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = strings.TrimSpace(c.Label)
		if names[i] == "" {
			names[i] = "class_" + strconv.Itoa(i)
		}
	}
	return names
}

func scalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

// datasetYAML produces the dataset config that the YOLO trainer reads
func datasetYAML(classNames []string) ([]byte, error) {
	classList := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, name := range classNames {
		item := scalar("!!str", name)
		item.Style = yaml.DoubleQuotedStyle
		classList.Content = append(classList.Content, item)
	}
	imgSize := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	imgSize.Content = []*yaml.Node{scalar("!!int", "1280"), scalar("!!int", "1280")}

	root := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value *yaml.Node) {
		root.Content = append(root.Content, scalar("!!str", key), value)
	}
	add("path", scalar("!!str", "dataset"))
	add("train", scalar("!!str", "train"))
	add("validation", scalar("!!str", "val"))
	add("test", scalar("!!str", "test"))
	add("class_num", scalar("!!int", strconv.Itoa(len(classNames))))
	add("class_list", classList)
	add("img_size", imgSize)
	add("num_workers", scalar("!!int", "2"))

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("Failed to write dataset.yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
