package oracle

// classificationPrompt instructs the model to read the page and return the
// verdict object. Receipt markers win over report markers.
const classificationPrompt = `CRITICAL OCR TASK: Extract all text.
Follow these strict categorization rules to separate Receipts from Credit Notes.

1. SEARCH FOR KEYWORDS (Literal Text):
- Inclusion Phrases (RECEIPT markers): ["Barcode", "TAX INVOICE", "RECEIPT", "Total Amount in Words", "PURCHASE RETURN VOUCHER", "TAX CREDIT NOTE", "PURCHASE RETURN"]
- Exclusion Phrases (REPORT/NON-RECEIPT markers): ["DAILY FIELD ACTIVITY REPORT", "Number of Invoices", "Transfer", "Month Target"]

2. STAMP DETECTION (Visual):
- Scan for manual rubber stamps/seals in BLUE, RED, or BLACK.
- These marks are often circular or rectangular and look "stamped on" (wet ink).
- Identify words inside stamps like "RECEIVED", "PAID", "POSTED", or "GOODS RECEIVED".

3. FILING LOGIC (Follow strictly):
- RULE 1: IF "TAX CREDIT NOTE" or "PURCHASE RETURN" is found, set "is_receipt": true.
- RULE 2: IF the word "Barcode" (text) is found, set "is_receipt": true.
- RULE 3: IF "TAX INVOICE" or "RECEIPT" is the header, set "is_receipt": true.
- RULE 4: ONLY set "is_receipt": false IF none of the above rules match AND an Exclusion Phrase is found.

Return ONLY a JSON object:
{
  "is_receipt": true/false,
  "has_stamp": true/false,
  "found_inclusion_keywords": [],
  "found_exclusion_keywords": [],
  "detected_stamp_details": "color and text of stamp",
  "document_data": { "ALL_FIELDS": "..." }
}`
