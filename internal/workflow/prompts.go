package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

func thumbnailInstruction(style Style) string {
	return fmt.Sprintf(`Role: World-class eCommerce AI planner.

Goal:
1. Analyze the product information and image.
2. Write "rationale" in Korean, explaining the concept to the seller.
3. Write "prompt" in English for Stable Diffusion / ControlNet.

Constraints:
- No text or watermarks in the image.
- Style: '%s'
- The prompt is at most 3-4 sentences and under 400 characters.
- Do not use decorative technical terms such as 8K, UHD, ultra-detailed, lens, camera settings or exact lighting values.
- Focus on the main subject, composition and lighting atmosphere only.
`, style)
}

func thumbnailRequest(in *ThumbnailInput) string {
	var b strings.Builder
	b.WriteString("[Request]\n")
	if in.Image != nil {
		b.WriteString("Analyze the attached product image and generate JSON output.\n")
	}
	fmt.Fprintf(&b, "Product: %s\n", in.MainCopy)
	fmt.Fprintf(&b, "Style: %s\n", in.Style)
	fmt.Fprintf(&b, "Target Resolution: %dx%d (%s). Ensure the composition fits this ratio.\n", in.Width, in.Height, in.AspectRatio)
	extra := strings.TrimSpace(in.AdditionalRequest)
	if extra == "" {
		extra = "None"
	}
	fmt.Fprintf(&b, "Extra: %s", extra)
	return b.String()
}

var thumbnailSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"rationale": map[string]any{"type": "string"},
		"prompt":    map[string]any{"type": "string"},
	},
	"required": []string{"rationale", "prompt"},
}

func planInstruction(sections int) string {
	return fmt.Sprintf(`You are a Korean eCommerce detail-page planner.

Requirements:
1. Every section "title" and "keyMessage" must be written in Korean. Avoid English.
2. Use exactly %d sections, in this order: Hook, Solution, core value proposition, feature explanation, trust building, comparison/differentiation, call to action.
3. Each section is rendered as a vertical 9:16 image.
4. "visualPrompt" is written in English and describes the product precisely (color, material, shape, logo) so an image model can draw it without distortion.
   - Include keywords such as "High quality ecommerce product photography" and "Professional lighting".
   - If a person appears, always specify "Korean model".
   - No text in the image.

Output (JSON only):
{
  "sections": [
    {
      "title": "section title (Korean)",
      "keyMessage": "key copy (Korean, at most 20 characters)",
      "visualPrompt": "detailed English image prompt"
    }
  ]
}
`, sections)
}

func planRequest(in *DetailPageInput) string {
	price := "not set"
	if in.Price != nil {
		price = groupThousands(*in.Price) + " KRW"
	}
	promo := strings.TrimSpace(in.PromotionInfo)
	if promo == "" {
		promo = "none"
	}
	closing := "Plan from the product information."
	if len(in.Images) > 0 {
		closing = "Analyze the attached product image and reflect it in the plan."
	}
	return fmt.Sprintf(`Product information:
- Name: %s
- Category: %s
- Price: %s
- Promotion: %s
- Features: %s
- Target audience: %s

%s
Plan the detail page structure from the information above. Output JSON only.`,
		in.ProductName, in.Category, price, promo, in.Features,
		strings.Join(in.TargetAudience, ", "), closing)
}

const featuresInstruction = `You are a veteran marketer.
Analyze the product name and summarize 3-5 key selling points a shopper would find attractive, as one natural paragraph.
Write in Korean, concretely and persuasively.`

func featuresRequest(productName string) string {
	return fmt.Sprintf("Product name: %q", productName)
}

// SectionPrompt decorates a planned visual prompt with the house photography style.
func SectionPrompt(productName, visualPrompt string) string {
	p := fmt.Sprintf("Product photography of %s. %s. "+
		"Style: High quality ecommerce product photography, Professional studio lighting, 8k resolution. "+
		"Subject: Korean model if person is shown. "+
		"Negative: Text, Typography, Logo, Watermark, Distorted, Blurry, Low quality.",
		productName, strings.TrimSpace(visualPrompt))
	return truncate(strings.Join(strings.Fields(p), " "), MaxPromptChars)
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
