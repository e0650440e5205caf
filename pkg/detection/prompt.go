package detection

// DefaultPrompt asks the model for a radiological reading as JSON
const DefaultPrompt = `Act as a radiological assistant. Analyze this brain MRI scan for tumors or other anomalies.

Return JSON only:
{
  "tumorDetected": true,
  "confidenceScore": 0.0,
  "analysis": "string",
  "location": "string",
  "localization": {
    "boundingBox": [0.0, 0.0, 0.0, 0.0],
    "mask": "base64 PNG"
  }
}

If a tumor is detected:
1. Set "tumorDetected" to true.
2. Provide a confidence score (0.0 to 1.0) for the detection.
3. Describe the probable location (e.g. "frontal lobe, left hemisphere").
4. Provide an in-depth analysis: size, shape and uniformity as seen in the scan, and what these characteristics might imply, for informational purposes.
5. You MUST provide localization: a normalized bounding box [x_min, y_min, x_max, y_max] with every value in [0,1], and a base64 encoded PNG mask the same size as the input image, tumor area opaque, everything else transparent.

If no tumor is detected:
1. Set "tumorDetected" to false.
2. Provide a high confidence score (e.g. >0.95) reflecting the certainty of a negative finding.
3. In "analysis", confirm that the visible brain structures appear normal and no anomalies are detected.
4. Set "location" to "N/A".
5. Omit "localization".

JSON only. No markdown, no code fences, no comments, no trailing commas.`
