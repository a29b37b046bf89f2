package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/menu-weaver/internal/storage"
)

const pageURL = "https://casalola.es/"

func extract(t *testing.T, html string) map[string]storage.FieldValue {
	t.Helper()
	rec, err := NewRestaurant().Extract([]byte(html), pageURL)
	require.NoError(t, err)
	assert.Equal(t, pageURL, rec.SourceURL)
	assert.False(t, rec.ExtractedAt.IsZero())
	return rec.Fields
}

func TestExtractJSONLD(t *testing.T) {
	t.Parallel()

	html := `<html><head><script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@type": "Restaurant",
  "name": "Casa Lola",
  "telephone": "+34 911 222 333",
  "email": "mailto:hola@casalola.es",
  "servesCuisine": ["Spanish", "Tapas"],
  "priceRange": "€€",
  "openingHours": ["Tu-Sa 13:00-23:30", "Su 13:00-16:00"],
  "hasMenu": {"@type": "Menu", "url": "/carta"},
  "acceptsReservations": true,
  "address": {
    "@type": "PostalAddress",
    "streetAddress": "Calle Ave Maria 12",
    "addressLocality": "Madrid",
    "postalCode": "28012",
    "addressCountry": {"@type": "Country", "name": "ES"}
  }
}
</script></head><body></body></html>`

	fields := extract(t, html)

	want := map[string]string{
		FieldName:         "Casa Lola",
		FieldPhone:        "+34 911 222 333",
		FieldEmail:        "hola@casalola.es",
		FieldCuisine:      "Spanish, Tapas",
		FieldPriceRange:   "€€",
		FieldOpeningHours: "Tu-Sa 13:00-23:30; Su 13:00-16:00",
		FieldMenuURL:      "https://casalola.es/carta",
		FieldReservations: "true",
		FieldAddress:      "Calle Ave Maria 12, Madrid, 28012, ES",
	}
	for name, value := range want {
		got, ok := fields[name]
		require.True(t, ok, name)
		assert.Equal(t, value, got.Value, name)
		assert.Equal(t, 0.9, got.Confidence, name)
		assert.Equal(t, MethodJSONLD, got.Method, name)
	}
}

func TestExtractJSONLDGraph(t *testing.T) {
	t.Parallel()

	html := `<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"WebSite","name":"Casa Lola - Official site"},
  {"@type":["LocalBusiness","BarOrPub"],"name":"Casa Lola Bar",
   "openingHoursSpecification":[
     {"@type":"OpeningHoursSpecification","dayOfWeek":["https://schema.org/Monday","https://schema.org/Tuesday"],"opens":"12:00","closes":"22:00"}
   ]}
]}
</script>`

	fields := extract(t, html)
	assert.Equal(t, "Casa Lola Bar", fields[FieldName].Value)
	assert.Equal(t, "Monday,Tuesday 12:00-22:00", fields[FieldOpeningHours].Value)
}

func TestExtractIgnoresOtherTypesAndBadJSON(t *testing.T) {
	t.Parallel()

	html := `<html><head>
<script type="application/ld+json">{"@type":"Organization","name":"Holding SA","telephone":"+1 555 0100"}</script>
<script type="application/ld+json">{not json</script>
</head><body></body></html>`

	fields := extract(t, html)
	assert.NotContains(t, fields, FieldName)
	assert.NotContains(t, fields, FieldPhone)
}

func TestExtractLinksAndMeta(t *testing.T) {
	t.Parallel()

	html := `<html><head>
<title>  Casa Lola |
  Tapas  </title>
<meta property="og:site_name" content="Casa Lola">
<meta name="description" content="Family tapas bar since 1987.">
</head><body>
<a href="tel:+34%20911%20222%20333">Call</a>
<a href="mailto:hola@casalola.es?subject=Booking">Email</a>
<a href="/nuestra-carta">La carta</a>
<a href="https://www.instagram.com/casalola/">IG</a>
<a href="https://m.facebook.com/casalola">FB</a>
<a href="https://www.tiktok.com/">TikTok home</a>
<a href="javascript:void(0)">Menu popup</a>
</body></html>`

	fields := extract(t, html)

	assert.Equal(t, storage.FieldValue{Value: "+34 911 222 333", Confidence: 0.8, Method: MethodTelLink}, fields[FieldPhone])
	assert.Equal(t, storage.FieldValue{Value: "hola@casalola.es", Confidence: 0.8, Method: MethodMailtoLink}, fields[FieldEmail])
	assert.Equal(t, storage.FieldValue{Value: "Casa Lola", Confidence: 0.6, Method: MethodOpenGraph}, fields[FieldName])
	assert.Equal(t, storage.FieldValue{Value: "Family tapas bar since 1987.", Confidence: 0.5, Method: MethodMetaDescription}, fields[FieldDescription])
	assert.Equal(t, "https://casalola.es/nuestra-carta", fields[FieldMenuURL].Value)
	assert.Equal(t, MethodMenuLink, fields[FieldMenuURL].Method)
	assert.Equal(t, "https://www.instagram.com/casalola/", fields[FieldSocialInstagram].Value)
	assert.Equal(t, "https://m.facebook.com/casalola", fields[FieldSocialFacebook].Value)
	assert.NotContains(t, fields, FieldSocialTikTok, "profile-less link")
}

func TestExtractTitleFallback(t *testing.T) {
	t.Parallel()

	fields := extract(t, "<html><head><title>Casa   Lola</title></head><body>Hola</body></html>")
	assert.Equal(t, storage.FieldValue{Value: "Casa Lola", Confidence: 0.4, Method: MethodTitle}, fields[FieldName])
}

func TestExtractPhoneFromText(t *testing.T) {
	t.Parallel()

	t.Run("finds a phone number", func(t *testing.T) {
		t.Parallel()
		fields := extract(t, `<body><p>Open since 1987. Reservations: (+34) 911 222 333</p>
<script>var build = 20240101123456789;</script></body>`)
		assert.Equal(t, MethodTextPattern, fields[FieldPhone].Method)
		assert.Equal(t, 0.4, fields[FieldPhone].Confidence)
		assert.Contains(t, fields[FieldPhone].Value, "911 222 333")
	})

	t.Run("ignores short numbers and scripts", func(t *testing.T) {
		t.Parallel()
		fields := extract(t, `<body><p>Since 1987, 12-14 guests</p><script>var x = "600 000 000 000";</script></body>`)
		assert.NotContains(t, fields, FieldPhone)
	})
}

func TestExtractEmptyContent(t *testing.T) {
	t.Parallel()

	_, err := NewRestaurant().Extract([]byte("  \n "), pageURL)
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = NewRestaurant().Extract(nil, pageURL)
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestExtractPageWithoutDetails(t *testing.T) {
	t.Parallel()

	fields := extract(t, "<html><body><p>Coming soon</p></body></html>")
	assert.Empty(t, fields)
}
