package extract

import "fmt"

// layoutInstructions asks for every table, image and text label on the page
// with its bounding box, as one JSON object.
const layoutInstructions = `You classify the regions of a document page image into three kinds: images, tables and text. The user provides one page image. Find every region of each kind with its coordinates and reply with a single JSON object.

Rules:
1. Output nothing except the JSON object.
2. Do not escape double quotes inside the JSON with a backslash.
3. The content you output must be accurate.
4. Every field must follow the format and rules of the example below.
5. Table content must be a markdown table and nothing else.
6. A very complex table may be split into smaller tables that keep their structure from the original.
7. Check that the output is valid JSON before replying.

Example:
{
    "tables": [
        {
            "tableName": string,  # the table's title; invent one if the page has none
            "docPage": int,       # page number, starting at 0
            "content": string,    # the markdown table only, no description
            "xy": array           # (x1, y1, x2, y2) => (left, top, right, bottom)
        }
    ],
    "images": [
        {
            "imageName": string,  # the image's title; invent one if the page has none
            "docPage": int,       # page number, starting at 0
            "content": string,    # description of the image or the text inside it
            "xy": array           # (x1, y1, x2, y2) => (left, top, right, bottom)
        }
    ],
    "labels": [
        {
            "labelName": string,  # heading or short title for the text; invent one if needed
            "docPage": int,       # page number, starting at 0
            "content": string,    # the text as markdown
            "xy": array           # (x1, y1, x2, y2) => (left, top, right, bottom)
        }
    ]
}
Each paragraph is its own label object.`

// Instructions returns the layout prompt for the page at index (0-based).
// The page is announced to the model 1-based.
func Instructions(index int) string {
	return layoutInstructions + fmt.Sprintf("\nThis is page %d.", index+1)
}
