package fixture

// record mirrors a metadata document. Struct field order fixes the key order
// of the generated JSON.
type record struct {
	MetadataID  string   `json:"metadata_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Traits      traitSet `json:"traits"`
}

type traitSet struct {
	Named                  *namedTrait       `json:"named,omitempty"`
	Fungible               *fungibleTrait    `json:"fungible,omitempty"`
	SquareIcon             *imageTrait       `json:"tech.trait.wallet.square_icon,omitempty"`
	CollectionListingImage *imageTrait       `json:"tech.trait.wallet.nft_collection_listing_image,omitempty"`
	TokenListingImage      *imageTrait       `json:"tech.trait.wallet.nft_token_listing_image,omitempty"`
	TokenCoverImage        *imageTrait       `json:"tech.trait.wallet.nft_token_cover_image,omitempty"`
	TokenDescription       *descriptionTrait `json:"tech.trait.wallet.nft_token_description,omitempty"`
	TokenAttributes        *attributesTrait  `json:"tech.trait.wallet.nft_token_attributes,omitempty"`
}

type namedTrait struct {
	Name string `json:"name"`
}

type fungibleTrait struct {
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type imageTrait struct {
	ImageURL string `json:"image_url"`
}

type descriptionTrait struct {
	Description string `json:"nft_token_description"`
}

type attributesTrait struct {
	Attributes []attribute `json:"attributes"`
}

type attribute struct {
	Name        string `json:"name"`
	DisplayType string `json:"display_type"`
	Value       any    `json:"value"`
}

// demoAttributes covers every display type, including the three accepted
// date forms.
func demoAttributes() []attribute {
	return []attribute{
		{Name: "Number attribute", DisplayType: "number", Value: 123},
		{Name: "Percentage attribute", DisplayType: "percentage", Value: -17},
		{Name: "String attribute", DisplayType: "string", Value: "Some string"},
		{Name: "Boolean attribute", DisplayType: "boolean", Value: true},
		{Name: "Date attribute 1", DisplayType: "date", Value: "2018-11-13T20:20:39+00:00"},
		{Name: "Date attribute 2", DisplayType: "date", Value: "2018-11-13"},
		{Name: "Date attribute 3", DisplayType: "date", Value: "20:20:39+00:00"},
		{Name: "Duration attribute", DisplayType: "duration", Value: "P3D"},
	}
}
