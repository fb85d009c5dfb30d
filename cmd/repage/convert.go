package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"repage/internal/converters"
	"repage/internal/llm"
	"repage/internal/models"
	"repage/internal/services"
)

var (
	convertConverter string
	convertProfile   string
	convertOutPath   string
)

var convertCmd = &cobra.Command{
	Use:   "convert <file.pdf>",
	Short: "Convert a PDF into standalone HTML",
	Long: `Convert runs extraction and HTML generation locally. Images are embedded as
data URIs so the output file stands on its own. Without --profile the text is
wrapped in a plain document.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertConverter, "converter", "c", "", "extraction strategy id (see 'repage converters')")
	convertCmd.Flags().StringVarP(&convertProfile, "profile", "p", "", "style profile JSON produced by 'repage learn'")
	convertCmd.Flags().StringVarP(&convertOutPath, "out", "o", "", "output HTML path (default: next to the PDF)")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, logger, creds, err := environment()
	if err != nil {
		return err
	}
	pdfPath := args[0]
	if !strings.EqualFold(filepath.Ext(pdfPath), ".pdf") {
		return fmt.Errorf("%s: only PDF files are accepted", pdfPath)
	}

	var profileJSON string
	if convertProfile != "" {
		raw, err := os.ReadFile(convertProfile)
		if err != nil {
			return fmt.Errorf("read profile: %w", err)
		}
		if _, err := services.ParseStyleProfile(string(raw)); err != nil {
			return fmt.Errorf("parse profile %s: %w", convertProfile, err)
		}
		profileJSON = string(raw)
	}

	strategyID := convertConverter
	if strategyID == "" {
		strategyID = cfg.DefaultConverter
	}
	selector := converters.NewSelector(strategyID, creds, llm.NewClient, logger)
	strategy, err := selector.Get(strategyID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()

	result, err := strategy.Convert(ctx, pdfPath)
	if err != nil {
		return fmt.Errorf("convert %s: %w", pdfPath, err)
	}
	logger.Info().
		Str("converter", strategy.ID()).
		Int("pages", result.PageCount).
		Int("images", len(result.Images)).
		Int("tables", len(result.Tables)).
		Msg("extraction done")

	html := services.NewSynthesizer(llm.NewClient, logger).Generate(ctx, result.Text, profileJSON, creds)
	html = embedResultImages(html, result.Images)

	out := convertOutPath
	if out == "" {
		out = strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + ".html"
	}
	if err := os.WriteFile(out, []byte(html), 0o644); err != nil {
		return fmt.Errorf("write html: %w", err)
	}
	logger.Info().Str("path", out).Msg("html written")
	return nil
}

// embedResultImages injects the image block and inlines every image, using
// conversion id 0 for the transient references.
func embedResultImages(html string, images []converters.ExtractedImage) string {
	if len(images) == 0 {
		return html
	}
	data := make(map[string][]byte, len(images))
	stored := make([]models.StoredImage, len(images))
	for i, img := range images {
		name := services.ImageFilename(img.PageNumber, img.OrderInPage, img.Extension())
		data[name] = img.Data
		stored[i] = models.StoredImage{
			Filename:    name,
			PageNumber:  img.PageNumber,
			OrderInPage: img.OrderInPage,
			Width:       img.Width,
			Height:      img.Height,
		}
	}
	html = services.InjectImages(html, 0, stored)
	return services.EmbedImages(html, 0, func(filename string) ([]byte, error) {
		b, ok := data[filename]
		if !ok {
			return nil, os.ErrNotExist
		}
		return b, nil
	})
}
